package cuckoo

import (
	"github.com/packedstore/pachash/block"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/query"
)

// BufferSize returns the handle buffer size for a cuckoo store: both
// candidate blocks side by side, contiguous (spec §4.9).
func BufferSize(blockSize int) int { return 2 * blockSize }

// QueryEngine is the query.RetrievalEngine for a cuckoo store: both
// candidate blocks are read in parallel under one tag, and the handle is
// done only once both completions have arrived (query.View's remaining-
// completions countdown handles this; see Enqueue's completionsExpected).
type QueryEngine struct {
	numBlocks uint64
	blockSize int
}

// NewQueryEngine builds a QueryEngine for a store with numBlocks blocks.
func NewQueryEngine(numBlocks uint64, blockSize int) *QueryEngine {
	return &QueryEngine{numBlocks: numBlocks, blockSize: blockSize}
}

// Enqueue implements query.RetrievalEngine: issue both candidate block
// reads under the same tag, expecting two completions.
func (e *QueryEngine) Enqueue(ioeng ioengine.Engine, h *query.Handle, tag ioengine.Tag) (int, error) {
	b0 := candidateBlock(h.Key, 0, e.numBlocks)
	b1 := candidateBlock(h.Key, 1, e.numBlocks)
	if err := ioeng.EnqueueRead(h.Buffer[0:e.blockSize], int64(b0)*int64(e.blockSize), tag); err != nil {
		return 0, err
	}
	if err := ioeng.EnqueueRead(h.Buffer[e.blockSize:2*e.blockSize], int64(b1)*int64(e.blockSize), tag); err != nil {
		return 0, err
	}
	return 2, nil
}

// Complete implements query.RetrievalEngine. It is invoked once per
// completion (twice total); only once remaining == 0, with both candidate
// blocks loaded, does it scan them for key.
func (e *QueryEngine) Complete(h *query.Handle, remaining int) error {
	if remaining > 0 {
		return nil
	}
	if h.Stats != nil {
		h.Stats.BlocksFetched = 2
	}
	for half := 0; half < 2; half++ {
		blk := h.Buffer[half*e.blockSize : (half+1)*e.blockSize]
		v := block.Parse(blk)
		idx, ok := block.FindKey(v, h.Key)
		if !ok {
			continue
		}
		length := v.ObjectLength(idx)
		offset := v.Offset(idx)
		h.ResultPtr = blk[offset : offset+length]
		h.Length = length
		return nil
	}
	h.ResultPtr = nil
	h.Length = 0
	return nil
}
