package separator

import (
	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/query"
)

// BufferSize returns the handle buffer size for a separator store: exactly
// one block (spec §4.8: "Read exactly one block").
func BufferSize(blockSize int) int { return blockSize }

// QueryEngine is the query.RetrievalEngine for a separator store: walk the
// probe chain at construction time, replaying it at query time against the
// frozen separators table to find the single block holding key.
type QueryEngine struct {
	separators []uint64
	numBlocks  uint64
	blockSize  int
	s          int
	maxProbes  int
}

// NewQueryEngine builds a QueryEngine over a separators table: either the
// one Build returned, or the one RebuildSeparators re-derived from the file.
func NewQueryEngine(separators []uint64, blockSize int, s int, maxProbes int) *QueryEngine {
	return &QueryEngine{
		separators: separators,
		numBlocks:  uint64(len(separators)),
		blockSize:  blockSize,
		s:          s,
		maxProbes:  maxProbes,
	}
}

// Enqueue implements query.RetrievalEngine: replay chainBlock/sep probes
// against the frozen separators table until the first b with
// sep(key,b) < separators[b], then enqueue exactly that one block's read.
// A key absent from the store may never satisfy the threshold; after
// maxProbes attempts the last candidate block is read anyway so the
// handle still completes, reporting a miss once its table scan fails.
func (e *QueryEngine) Enqueue(ioeng ioengine.Engine, h *query.Handle, tag ioengine.Tag) (int, error) {
	var b uint64
	for probe := uint64(0); ; probe++ {
		b = chainBlock(h.Key, probe, e.numBlocks)
		if sep(h.Key, b, e.s) < e.separators[b] || probe >= uint64(e.maxProbes) {
			break
		}
	}
	if err := ioeng.EnqueueRead(h.Buffer[:e.blockSize], int64(b)*int64(e.blockSize), tag); err != nil {
		return 0, err
	}
	return 1, nil
}

// Complete implements query.RetrievalEngine: the single loaded block's
// table either holds key (a clean, non-spanning hit; separator stores never
// place a spanning object in a chain block, spec §4.8) or it doesn't.
func (e *QueryEngine) Complete(h *query.Handle, remaining int) error {
	if h.Stats != nil {
		h.Stats.BlocksFetched = 1
	}
	v := block.Parse(h.Buffer[:e.blockSize])
	idx, ok := block.FindKey(v, h.Key)
	if !ok {
		h.ResultPtr = nil
		h.Length = 0
		return nil
	}
	length := v.ObjectLength(idx)
	offset := v.Offset(idx)
	h.ResultPtr = h.Buffer[offset : offset+length]
	h.Length = length
	return nil
}
