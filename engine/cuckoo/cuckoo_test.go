package cuckoo

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cuckoo-engine-*.store")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	return path
}

func buildStore(t *testing.T, records []Record, cfg storeconfig.Config, rng *rand.Rand) (path string, meta struct {
	NumBlocks uint64
	MaxSize   uint64
}) {
	t.Helper()
	path = tempStorePath(t)
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	m, err := Build(backend, cfg, records, rng)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	meta.NumBlocks, meta.MaxSize = m.NumBlocks, m.MaxSize
	return path, meta
}

func TestBuildAndQuerySmallStore(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.LoadFactor = 0.70

	rng := rand.New(rand.NewSource(5))
	records := make([]Record, 0, 400)
	want := map[uint64][]byte{}
	for i := 0; i < 400; i++ {
		key := uint64(i + 1)
		v := make([]byte, 8)
		for j := range v {
			v[j] = byte(rng.Intn(256))
		}
		records = append(records, Record{Key: key, Value: v})
		want[key] = v
	}

	path, meta := buildStore(t, records, cfg, rng)
	require.Greater(t, meta.NumBlocks, uint64(0))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(meta.NumBlocks, cfg.BlockSize)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize), true)

	for key, v := range want {
		h.Key = key
		require.NoError(t, view.EnqueueQuery(h))
		require.NoError(t, view.Submit())
		done, err := view.AwaitAny()
		require.NoError(t, err)
		require.Same(t, h, done)
		require.Equal(t, v, append([]byte{}, h.ResultPtr...), "key %d", key)
		require.Equal(t, 2, h.Stats.BlocksFetched)
		h.State = query.Idle
	}
}

func TestQueryMissingKeyReturnsNil(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.LoadFactor = 0.50
	rng := rand.New(rand.NewSource(6))
	records := []Record{{Key: 1, Value: []byte("hello1--")}, {Key: 2, Value: []byte("world2--")}}
	path, meta := buildStore(t, records, cfg, rng)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(meta.NumBlocks, cfg.BlockSize)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize), false)
	h.Key = 999
	require.NoError(t, view.EnqueueQuery(h))
	require.NoError(t, view.Submit())
	done, err := view.AwaitAny()
	require.NoError(t, err)
	require.Nil(t, done.ResultPtr)
	require.Equal(t, 0, done.Length)
}

// TestAverageBlocksFetchedIsTwo mirrors spec §8 scenario 5: for a
// reasonably-sized store, every successful query costs exactly two block
// reads (both candidates are always read in parallel; construction never
// widens beyond each key's own two candidates).
func TestAverageBlocksFetchedIsTwo(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 512
	cfg.LoadFactor = 0.80

	rng := rand.New(rand.NewSource(7))
	const n = 2000
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		v := make([]byte, 8)
		rng.Read(v)
		records = append(records, Record{Key: uint64(i + 1), Value: v})
	}
	path, meta := buildStore(t, records, cfg, rng)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(meta.NumBlocks, cfg.BlockSize)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize), true)

	var totalBlocksFetched int
	for _, r := range records {
		h.Key = r.Key
		require.NoError(t, view.EnqueueQuery(h))
		require.NoError(t, view.Submit())
		done, err := view.AwaitAny()
		require.NoError(t, err)
		require.Equal(t, r.Value, append([]byte{}, done.ResultPtr...), "key %d", r.Key)
		totalBlocksFetched += done.Stats.BlocksFetched
		h.State = query.Idle
	}
	require.Equal(t, float64(2), float64(totalBlocksFetched)/float64(n))
}
