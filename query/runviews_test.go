package query

import (
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/packedstore/pachash/ioengine"
)

// fakeEngine reads the 8 bytes at file offset h.Key*8, so RunViews tests
// don't need a real store; only a file long enough to back every query.
type fakeEngine struct{}

func (fakeEngine) Enqueue(ioeng ioengine.Engine, h *Handle, tag ioengine.Tag) (int, error) {
	if err := ioeng.EnqueueRead(h.Buffer[:8], int64(h.Key)*8, tag); err != nil {
		return 0, err
	}
	return 1, nil
}

func (fakeEngine) Complete(h *Handle, remaining int) error {
	if remaining > 0 {
		return nil
	}
	h.ResultPtr = h.Buffer[:8]
	h.Length = 8
	return nil
}

func TestRunViewsFansOutAcrossViews(t *testing.T) {
	const numViews = 4
	const queriesPerView = 25
	const total = numViews * queriesPerView

	f, err := os.CreateTemp(t.TempDir(), "runviews-*.data")
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, f.Truncate(int64(total+1)*8))

	views := make([]*View, numViews)
	for i := range views {
		ioeng, err := ioengine.Open(ioengine.Sync, f, 1)
		require.NoError(t, err)
		defer ioeng.Close()
		views[i] = NewView(ioeng, fakeEngine{}, 1)
	}

	var completed int64
	err = RunViews(views, func(v *View) (bool, error) {
		n := atomic.AddInt64(&completed, 1)
		if n > int64(total) {
			return false, nil
		}
		h := NewHandle(8, false)
		h.Key = uint64(n)
		if err := v.EnqueueQuery(h); err != nil {
			return false, err
		}
		if err := v.Submit(); err != nil {
			return false, err
		}
		if _, err := v.AwaitAny(); err != nil {
			return false, err
		}
		return n < int64(total), nil
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, atomic.LoadInt64(&completed), int64(total))
}
