package writer

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/blockfile"
	"github.com/packedstore/pachash/storeconfig"
)

func tempBackend(t *testing.T) (*blockfile.Local, string) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "pachash-writer-*.store")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	backend, err := blockfile.CreateLocal(path)
	require.NoError(t, err)
	return backend, path
}

func TestWriteAndCloseRoundTrip(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	backend, path := tempBackend(t)

	w := New(backend, cfg)
	records := map[uint64][]byte{
		1: []byte("short"),
		2: make([]byte, 700), // spans multiple blocks
		3: []byte("x"),
	}
	for k, v := range records {
		require.NoError(t, w.Write(k, v))
	}
	numBlocks, maxSize, err := w.Close(storeconfig.TypeCuckoo)
	require.NoError(t, err)
	require.Equal(t, uint64(700), maxSize)
	require.Greater(t, numBlocks, uint64(0))
	require.NoError(t, backend.Close())

	reopened, err := blockfile.OpenLocal(path)
	require.NoError(t, err)
	defer reopened.Close()

	metaBuf := make([]byte, block.MetadataSize)
	n, err := reopened.ReadAt(metaBuf, 0)
	require.NoError(t, err)
	require.Equal(t, block.MetadataSize, n)
	meta, err := block.ParseMetadata(metaBuf)
	require.NoError(t, err)
	require.Equal(t, storeconfig.TypeCuckoo, meta.Type)
	require.Equal(t, numBlocks, meta.NumBlocks)
	require.Equal(t, maxSize, meta.MaxSize)

	size, err := reopened.Size()
	require.NoError(t, err)
	require.Equal(t, int64(0), size%int64(cfg.BlockSize))
}

func TestWriteRejectsReservedKey(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	backend, _ := tempBackend(t)
	defer backend.Close()

	w := New(backend, cfg)
	err := w.Write(0, []byte("x"))
	require.Error(t, err)
}

func TestCloseOnEmptyStore(t *testing.T) {
	cfg := storeconfig.Default()
	cfg.BlockSize = 256
	backend, _ := tempBackend(t)
	defer backend.Close()

	w := New(backend, cfg)
	numBlocks, maxSize, err := w.Close(storeconfig.TypePaCHashBase)
	require.NoError(t, err)
	require.Equal(t, uint64(0), maxSize)
	require.GreaterOrEqual(t, numBlocks, uint64(1))
}
