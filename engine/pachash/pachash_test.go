package pachash

import (
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/pachashindex"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pachash-engine-*.store")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	return path
}

func buildStore(t *testing.T, records []Record, cfg storeconfig.Config) (path string, meta struct {
	NumBlocks uint64
	MaxSize   uint64
}, idx pachashindex.Index) {
	t.Helper()
	path = tempStorePath(t)
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	m, builtIdx, err := Build(backend, cfg, records, pachashindex.NewEliasFanoBuilder)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	meta.NumBlocks, meta.MaxSize = m.NumBlocks, m.MaxSize
	idx = builtIdx
	return path, meta, idx
}

func TestBuildAndQuerySmallStore(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	cfg.ObjectsPerBin = 8

	rng := rand.New(rand.NewSource(1))
	records := make([]Record, 0, 1000)
	want := map[uint64][]byte{}
	for i := 0; i < 1000; i++ {
		key := uint64(i + 1)
		v := make([]byte, 4+rng.Intn(20))
		for j := range v {
			v[j] = byte(rng.Intn(256))
		}
		records = append(records, Record{Key: key, Value: v})
		want[key] = v
	}

	path, meta, idx := buildStore(t, records, cfg)
	require.Greater(t, meta.NumBlocks, uint64(0))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
	qe := NewQueryEngine(idx, cfg.BlockSize, numBins)
	view := query.NewView(ioeng, qe, 1)

	bufSize := BufferSize(cfg.BlockSize, meta.MaxSize)
	h := query.NewHandle(bufSize, true)

	for key, v := range want {
		h.Key = key
		require.NoError(t, view.EnqueueQuery(h))
		require.NoError(t, view.Submit())
		done, err := view.AwaitAny()
		require.NoError(t, err)
		require.Same(t, h, done)
		require.Equal(t, v, append([]byte{}, h.ResultPtr...))
		h.State = query.Idle
	}
}

func TestQueryMissingKeyReturnsNil(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	records := []Record{{Key: 1, Value: []byte("hello")}, {Key: 2, Value: []byte("world")}}
	path, meta, idx := buildStore(t, records, cfg)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
	qe := NewQueryEngine(idx, cfg.BlockSize, numBins)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize, meta.MaxSize), false)
	h.Key = 999
	require.NoError(t, view.EnqueueQuery(h))
	require.NoError(t, view.Submit())
	done, err := view.AwaitAny()
	require.NoError(t, err)
	require.Nil(t, done.ResultPtr)
	require.Equal(t, 0, done.Length)
}

func TestSpanningObjectsReconstructAcrossBlocks(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 512
	cfg.ObjectsPerBin = 4

	mk := func(n int, fill byte) []byte {
		v := make([]byte, n)
		for i := range v {
			v[i] = fill
		}
		return v
	}
	records := []Record{
		{Key: 1, Value: mk(5000, 0xAA)},
		{Key: 2, Value: mk(12000, 0xBB)},
		{Key: 3, Value: mk(900, 0xCC)},
	}
	for i := 4; i <= 40; i++ {
		records = append(records, Record{Key: uint64(i), Value: mk(20, byte(i))})
	}

	path, meta, idx := buildStore(t, records, cfg)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
	qe := NewQueryEngine(idx, cfg.BlockSize, numBins)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(BufferSize(cfg.BlockSize, meta.MaxSize), true)

	for _, r := range records {
		h.Key = r.Key
		require.NoError(t, view.EnqueueQuery(h))
		require.NoError(t, view.Submit())
		done, err := view.AwaitAny()
		require.NoError(t, err)
		require.Equal(t, r.Value, append([]byte{}, done.ResultPtr...), "key %d", r.Key)
		h.State = query.Idle
	}
}
