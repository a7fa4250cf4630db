package query

import (
	"time"

	"github.com/packedstore/pachash/ioengine"
)

// RetrievalEngine is the per-store-type strategy a View drives: it knows
// how to turn a key into one or more block reads and how to parse the
// resulting bytes back into a result. PaCHash, separator, and cuckoo each
// provide one (engine/pachash, engine/separator, engine/cuckoo).
type RetrievalEngine interface {
	// Enqueue computes the block address(es) for h.Key and calls
	// ioeng.EnqueueRead for each, tagging every read with tag. It returns
	// how many separate completions under tag the caller should expect
	// (1 normally; 2 for the cuckoo engine's parallel two-block query).
	Enqueue(ioeng ioengine.Engine, h *Handle, tag ioengine.Tag) (completionsExpected int, err error)

	// Complete is invoked once per completion that arrives for h (so once
	// normally, twice for cuckoo). remaining is how many further
	// completions are still expected after this one; on remaining == 0 it
	// must set h.ResultPtr and h.Length.
	Complete(h *Handle, remaining int) error
}

// View is an ObjectStoreView (spec §4.10): one thread's single-threaded,
// cooperative driver of up to depth simultaneously in-flight handles over
// one ioengine.Engine. Not safe for concurrent use from multiple
// goroutines; open one View per thread/view.
type View struct {
	ioeng  ioengine.Engine
	engine RetrievalEngine
	depth  int

	nextTag  ioengine.Tag
	pending  map[ioengine.Tag]*Handle
	remain   map[ioengine.Tag]int
}

// NewView opens a view driving up to depth in-flight handles over ioeng
// using engine's per-store-type address/parse logic.
func NewView(ioeng ioengine.Engine, engine RetrievalEngine, depth int) *View {
	return &View{
		ioeng:   ioeng,
		engine:  engine,
		depth:   depth,
		pending: make(map[ioengine.Tag]*Handle, depth),
		remain:  make(map[ioengine.Tag]int, depth),
	}
}

// EnqueueQuery computes h's block address(es) and queues the read(s); it
// does not submit or block. h must be Idle.
func (v *View) EnqueueQuery(h *Handle) error {
	if err := h.requireIdle("query.View.EnqueueQuery"); err != nil {
		return err
	}
	v.nextTag++
	tag := v.nextTag
	if h.Stats != nil {
		h.Stats.Enqueued = time.Now()
		h.Stats.BlocksFetched = 0
		h.Stats.FoundBlockAt = 0
		h.Stats.FetchedBlockAt = 0
		h.Stats.FoundKeyAt = 0
	}
	expected, err := v.engine.Enqueue(v.ioeng, h, tag)
	if err != nil {
		return err
	}
	if h.Stats != nil {
		h.Stats.FoundBlockAt = time.Since(h.Stats.Enqueued)
	}
	h.State = Submitted
	v.pending[tag] = h
	v.remain[tag] = expected
	return nil
}

// Submit releases all queued reads to the kernel.
func (v *View) Submit() error { return v.ioeng.Submit() }

// AwaitAny blocks until at least one handle fully completes (all of its
// expected completions have arrived and been parsed), returning it.
func (v *View) AwaitAny() (*Handle, error) {
	for {
		tag, err := v.ioeng.AwaitAny()
		if err != nil {
			return nil, err
		}
		if h, done := v.observe(tag); done {
			return h, nil
		}
	}
}

// PeekAny returns a completed handle without blocking, or nil if none is
// ready yet.
func (v *View) PeekAny() (*Handle, error) {
	for {
		tag, err := v.ioeng.PeekAny()
		if err != nil {
			return nil, err
		}
		if tag == 0 {
			return nil, nil
		}
		if h, done := v.observe(tag); done {
			return h, nil
		}
	}
}

// observe records one completion under tag, parses it, and reports
// whether the owning handle has now received all expected completions.
func (v *View) observe(tag ioengine.Tag) (*Handle, bool) {
	h, ok := v.pending[tag]
	if !ok {
		return nil, false
	}
	if h.Stats != nil && h.Stats.FetchedBlockAt == 0 {
		h.Stats.FetchedBlockAt = time.Since(h.Stats.Enqueued)
	}
	v.remain[tag]--
	remaining := v.remain[tag]
	if err := v.engine.Complete(h, remaining); err != nil {
		h.State = Idle
		delete(v.pending, tag)
		delete(v.remain, tag)
		return h, true
	}
	if v.remain[tag] > 0 {
		return nil, false
	}
	delete(v.pending, tag)
	delete(v.remain, tag)
	h.State = Completed
	if h.Stats != nil {
		h.Stats.FoundKeyAt = time.Since(h.Stats.Enqueued)
		h.Stats.Completed = time.Now()
	}
	return h, true
}

// Depth returns the configured maximum in-flight handle count.
func (v *View) Depth() int { return v.depth }
