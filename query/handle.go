// Package query implements C10: the cooperative, single-threaded query
// pipeline shared by all three engines, grounded on
// original_source/include/VariableSizeObjectStore.h's QueryHandle and
// ObjectStoreView. A Handle is single-owner and reusable: once Idle again
// it may be enqueued for a different key.
package query

import (
	"time"

	pacherrors "github.com/packedstore/pachash/internal/errors"
)

// State is a Handle's position in its enqueue/submit/complete cycle.
type State int

const (
	// Idle means the handle holds no in-flight or unread request. Safe to
	// reuse for a new key.
	Idle State = iota
	// Submitted means enqueueQuery has been called (and, depending on the
	// retrieval engine, zero or more but not all expected completions have
	// arrived). A handle in this state must not be re-enqueued.
	Submitted
	// Completed means awaitAny/peekAny has parsed the result; ResultPtr and
	// Length are valid until the next EnqueueQuery call.
	Completed
)

// Stats records a per-query timing and I/O breakdown, an addition beyond
// the original's QueryHandle (spec's supplemented "observability" feature),
// grounded on original_source/include/QueryTimer.h's phase breakdown: useful
// both for the benchmark-style scenarios in spec §8 that talk about "average
// blocksFetched" and for telling I/O-bound queries apart from CPU-bound
// parsing.
type Stats struct {
	Enqueued      time.Time
	Completed     time.Time
	BlocksFetched int

	// FoundBlockAt, FetchedBlockAt, and FoundKeyAt are offsets from Enqueued
	// marking, respectively, when the retrieval engine finished computing
	// the candidate block address(es) (QueryTimer's "address" phase), when
	// the first block's bytes arrived back from the I/O engine ("fetch"),
	// and when the key was located (or found absent) within the fetched
	// block ("search"). Zero until that phase has actually happened.
	FoundBlockAt   time.Duration
	FetchedBlockAt time.Duration
	FoundKeyAt     time.Duration
}

// Duration returns Completed.Sub(Enqueued), valid only once the handle has
// completed.
func (s *Stats) Duration() time.Duration { return s.Completed.Sub(s.Enqueued) }

// Handle is a single in-flight (or idle, or completed) query slot. The
// buffer is sized once by the caller (NewHandle) to the worst case for the
// store it will query: engine/pachash needs 4*(maxSize+blockSize-1) bytes
// to hold a maximally spanning object reconstructed in place; separator
// and cuckoo need one and two blocks respectively.
type Handle struct {
	Key       uint64
	ResultPtr []byte // nil on miss; otherwise a slice into Buffer
	Length    int    // result length once Completed; engines may reuse this field as scratch while Submitted
	Buffer    []byte

	State State
	Stats *Stats // nil unless NewHandle was called with collectStats=true

	remaining int         // completions still expected before this handle is done
	scratch   interface{} // retrieval-engine-specific bookkeeping (e.g. starting block index)
}

// NewHandle allocates a handle with a buffer of the given size. Pass
// collectStats=true to populate Stats on every completion.
func NewHandle(bufferSize int, collectStats bool) *Handle {
	h := &Handle{Buffer: make([]byte, bufferSize)}
	if collectStats {
		h.Stats = &Stats{}
	}
	return h
}

// Scratch returns the retrieval engine's private bookkeeping value for
// this handle.
func (h *Handle) Scratch() interface{} { return h.scratch }

// SetScratch stores the retrieval engine's private bookkeeping value.
func (h *Handle) SetScratch(v interface{}) { h.scratch = v }

func (h *Handle) requireIdle(op string) error {
	if h.State != Idle {
		return pacherrors.New(pacherrors.UsageError, op, "handle is not idle")
	}
	return nil
}
