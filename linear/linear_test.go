package linear

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/engine/pachash"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/pachashindex"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "linear-*.store")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	return path
}

func buildPaCHash(t *testing.T, records []pachash.Record, cfg storeconfig.Config) (path string, numBlocks uint64) {
	t.Helper()
	path = tempStorePath(t)
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	meta, _, err := pachash.Build(backend, cfg, records, pachashindex.NewEliasFanoBuilder)
	require.NoError(t, err)
	require.NoError(t, backend.Close())
	return path, meta.NumBlocks
}

func TestLinearScanVisitsEveryRecord(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256

	records := make([]pachash.Record, 0, 200)
	want := map[uint64][]byte{}
	for i := 0; i < 200; i++ {
		key := uint64(i + 1)
		v := []byte{byte(i), byte(i >> 8), byte(i % 251)}
		records = append(records, pachash.Record{Key: key, Value: v})
		want[key] = v
	}
	path, numBlocks := buildPaCHash(t, records, cfg)

	backend, err := blockfile.OpenLocal(path)
	require.NoError(t, err)
	defer backend.Close()

	lr := OpenLinearObjectReader(backend, cfg.BlockSize, numBlocks)
	seen := map[uint64][]byte{}
	for {
		obj, ok := lr.Next()
		if !ok {
			break
		}
		seen[obj.Key] = obj.Value
	}
	require.NoError(t, lr.Err())
	require.Equal(t, want, seen)
}

func TestMergeDisjointKeyStores(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256

	evens := make([]pachash.Record, 0, 100)
	odds := make([]pachash.Record, 0, 100)
	want := map[uint64][]byte{}
	for i := 0; i < 100; i++ {
		ek, ok := uint64(2*i+2), uint64(2*i+1)
		ev := []byte{byte(i), 0xEE}
		ov := []byte{byte(i), 0xDD}
		evens = append(evens, pachash.Record{Key: ek, Value: ev})
		odds = append(odds, pachash.Record{Key: ok, Value: ov})
		want[ek] = ev
		want[ok] = ov
	}

	evenPath, evenBlocks := buildPaCHash(t, evens, cfg)
	oddPath, oddBlocks := buildPaCHash(t, odds, cfg)

	evenBackend, err := blockfile.OpenLocal(evenPath)
	require.NoError(t, err)
	defer evenBackend.Close()
	oddBackend, err := blockfile.OpenLocal(oddPath)
	require.NoError(t, err)
	defer oddBackend.Close()

	dstPath := tempStorePath(t)
	dstBackend, err := blockfile.CreateLocal(dstPath)
	require.NoError(t, err)

	n, err := Merge(dstBackend, cfg, []Source{
		{Backend: evenBackend, BlockSize: cfg.BlockSize, NumBlocks: evenBlocks},
		{Backend: oddBackend, BlockSize: cfg.BlockSize, NumBlocks: oddBlocks},
	})
	require.NoError(t, err)
	require.Equal(t, 200, n)

	buf := make([]byte, block.MetadataSize)
	_, err = dstBackend.ReadAt(buf, 0)
	require.NoError(t, err)
	meta, err := block.ParseMetadata(buf)
	require.NoError(t, err)
	require.Equal(t, storeconfig.TypePaCHashBase, meta.Type)

	// The merged file's on-disk order is hashed-key order (matching how
	// pachash.Build itself lays out a file), not raw-key order.
	lr := OpenLinearObjectReader(dstBackend, cfg.BlockSize, meta.NumBlocks)
	got := map[uint64][]byte{}
	var lastHash uint64
	first := true
	for {
		obj, ok := lr.Next()
		if !ok {
			break
		}
		h := pachash.HashedKey(obj.Key)
		if !first {
			require.GreaterOrEqual(t, h, lastHash, "merged output must stay hashed-key-ordered")
		}
		lastHash = h
		first = false
		got[obj.Key] = obj.Value
	}
	require.NoError(t, lr.Err())
	require.Equal(t, want, got)

	numBins := meta.NumBlocks * uint64(cfg.ObjectsPerBin)
	if numBins == 0 {
		numBins = 1
	}
	idx, err := pachash.BuildIndex(dstBackend, cfg.BlockSize, meta.NumBlocks, numBins, pachashindex.NewEliasFanoBuilder)
	require.NoError(t, err)
	require.NoError(t, dstBackend.Close())

	f, err := os.Open(dstPath)
	require.NoError(t, err)
	defer f.Close()
	ioeng, err := ioengine.Open(ioengine.Sync, f, 4)
	require.NoError(t, err)
	defer ioeng.Close()

	qe := pachash.NewQueryEngine(idx, cfg.BlockSize, numBins)
	view := query.NewView(ioeng, qe, 1)
	h := query.NewHandle(pachash.BufferSize(cfg.BlockSize, meta.MaxSize), false)
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
