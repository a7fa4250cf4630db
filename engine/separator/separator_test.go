package separator

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "separator-engine-*.store")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	return path
}

func buildStore(t *testing.T, records []Record, cfg storeconfig.Config) (path string, meta struct {
	NumBlocks uint64
	MaxSize   uint64
}, separators []uint64) {
	t.Helper()
	path = tempStorePath(t)
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	m, seps, err := Build(backend, cfg, records)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	meta.NumBlocks, meta.MaxSize = m.NumBlocks, m.MaxSize
	return path, meta, seps
}

func TestBuildAndQuerySmallStore(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.SeparatorBits = 6
	cfg.LoadFactor = 0.80

	rng := rand.New(rand.NewSource(2))
	records := make([]Record, 0, 500)
	want := map[uint64][]byte{}
	for i := 0; i < 500; i++ {
		key := uint64(i + 1)
		v := make([]byte, 4+rng.Intn(16))
		for j := range v {
			v[j] = byte(rng.Intn(256))
		}
		records = append(records, Record{Key: key, Value: v})
		want[key] = v
	}

	path, meta, seps := buildStore(t, records, cfg)
	require.Greater(t, meta.NumBlocks, uint64(0))
	require.Equal(t, int(meta.NumBlocks), len(seps))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(seps, cfg.BlockSize, cfg.SeparatorBits, cfg.MaxProbes)
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
		require.Equal(t, 1, h.Stats.BlocksFetched)
		h.State = query.Idle
	}
}

func TestQueryMissingKeyReturnsNil(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.SeparatorBits = 6
	cfg.LoadFactor = 0.80
	records := []Record{{Key: 1, Value: []byte("hello")}, {Key: 2, Value: []byte("world")}}
	path, _, seps := buildStore(t, records, cfg)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(seps, cfg.BlockSize, cfg.SeparatorBits, cfg.MaxProbes)
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

// TestEveryKeyFoundAtItsOwnSeparatorThreshold checks the construction
// invariant spec §8 calls out: for every stored key, the first probe whose
// candidate block b satisfies sep(key,b) < separators[b] is the block that
// actually holds the key.
func TestEveryKeyFoundAtItsOwnSeparatorThreshold(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.SeparatorBits = 5
	cfg.LoadFactor = 0.75

	rng := rand.New(rand.NewSource(3))
	records := make([]Record, 0, 300)
	for i := 0; i < 300; i++ {
		v := make([]byte, 4+rng.Intn(10))
		records = append(records, Record{Key: uint64(i + 1), Value: v})
	}
	path, meta, seps := buildStore(t, records, cfg)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	for _, r := range records {
		var found bool
		for probe := uint64(0); probe <= uint64(cfg.MaxProbes); probe++ {
			b := chainBlock(r.Key, probe, meta.NumBlocks)
			if sep(r.Key, b, cfg.SeparatorBits) < seps[b] {
				buf := make([]byte, cfg.BlockSize)
				_, err := f.ReadAt(buf, int64(b)*int64(cfg.BlockSize))
				require.NoError(t, err)
				v := block.Parse(buf)
				_, ok := block.FindKey(v, r.Key)
				require.True(t, ok, "key %d expected in block %d", r.Key, b)
				found = true
				break
			}
		}
		require.True(t, found, "key %d never satisfied its separator threshold", r.Key)
	}
}

// TestRebuildSeparatorsMatchesFreshOpen checks that a process which only
// has the file on disk (no in-memory separators table surviving from
// Build) can still answer every query correctly after a rescan.
func TestRebuildSeparatorsMatchesFreshOpen(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.SeparatorBits = 6
	cfg.LoadFactor = 0.80

	rng := rand.New(rand.NewSource(9))
	records := make([]Record, 0, 500)
	want := map[uint64][]byte{}
	for i := 0; i < 500; i++ {
		key := uint64(i + 1)
		v := make([]byte, 4+rng.Intn(16))
		for j := range v {
			v[j] = byte(rng.Intn(256))
		}
		records = append(records, Record{Key: key, Value: v})
		want[key] = v
	}
	path, meta, _ := buildStore(t, records, cfg)

	backend, err := blockfile.OpenLocal(path)
	require.NoError(t, err)
	defer backend.Close()

	seps, err := RebuildSeparators(backend, cfg.BlockSize, meta.NumBlocks, cfg.SeparatorBits)
	require.NoError(t, err)
	require.Equal(t, int(meta.NumBlocks), len(seps))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := NewQueryEngine(seps, cfg.BlockSize, cfg.SeparatorBits, cfg.MaxProbes)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize), false)
	for key, v := range want {
		h.Key = key
		require.NoError(t, view.EnqueueQuery(h))
		require.NoError(t, view.Submit())
		done, err := view.AwaitAny()
		require.NoError(t, err)
		require.Equal(t, v, append([]byte{}, done.ResultPtr...), "key %d", key)
		h.State = query.Idle
	}
}

// TestSeparatorOverflowRecoversAtLowerLoadFactor mirrors spec §8 scenario 4:
// a tight separator budget (few bits, high load factor) may raise
// ConstructionFailure; retrying with a lower load factor must succeed.
func TestSeparatorOverflowRecoversAtLowerLoadFactor(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 128
	cfg.SeparatorBits = 4
	cfg.LoadFactor = 0.98
	cfg.MaxProbes = 20

	rng := rand.New(rand.NewSource(4))
	records := make([]Record, 0, 2000)
	for i := 0; i < 2000; i++ {
		v := make([]byte, 4+rng.Intn(8))
		records = append(records, Record{Key: uint64(i + 1), Value: v})
	}

	path := tempStorePath(t)
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	_, _, buildErr := Build(backend, cfg, records)
	require.NoError(t, backend.Close())

	if buildErr != nil {
		require.True(t, errors.Is(errors.ConstructionFailure, buildErr), "expected ConstructionFailure, got %v", buildErr)

		cfg.LoadFactor = 0.90
		path2 := tempStorePath(t)
		backend2, err := blockfile.CreateLocal(path2)
		require.NoError(t, err)
		_, _, retryErr := Build(backend2, cfg, records)
		require.NoError(t, backend2.Close())
		require.NoError(t, retryErr)
	}
}
