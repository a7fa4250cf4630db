package ioengine

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSyncEngineReadWrite(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ioengine")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(4096))

	eng, err := Open(Sync, f, 4)
	require.NoError(t, err)
	defer eng.Close()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, eng.EnqueueWrite(payload, 0, Tag(1)))
	require.NoError(t, eng.Submit())
	tag, err := eng.AwaitAny()
	require.NoError(t, err)
	require.Equal(t, Tag(1), tag)

	readBuf := make([]byte, 512)
	require.NoError(t, eng.EnqueueRead(readBuf, 0, Tag(2)))
	require.NoError(t, eng.Submit())
	tag, err = eng.AwaitAny()
	require.NoError(t, err)
	require.Equal(t, Tag(2), tag)
	require.Equal(t, payload, readBuf)
}

func TestSyncEngineRejectsZeroTag(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ioengine")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(4096))

	eng, err := Open(Sync, f, 4)
	require.NoError(t, err)
	defer eng.Close()

	buf := make([]byte, 16)
	err = eng.EnqueueRead(buf, 0, Tag(0))
	require.Error(t, err)
}
