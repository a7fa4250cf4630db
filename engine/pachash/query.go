package pachash

import (
	"github.com/packedstore/pachash/block"
	pacherrors "github.com/packedstore/pachash/internal/errors"
	"github.com/packedstore/pachash/ioengine"
	"github.com/packedstore/pachash/pachashindex"
	"github.com/packedstore/pachash/query"
	"github.com/packedstore/pachash/storeconfig"
)

// BufferSize returns the worst-case handle buffer size for a store with
// the given blockSize/maxSize: 4*(maxSize+blockSize-1), bounding how far a
// maximally-sized spanning object plus its containing blocks can reach
// (spec §4.7).
func BufferSize(blockSize int, maxSize uint64) int {
	return 4 * (int(maxSize) + blockSize - 1)
}

// QueryEngine is the query.RetrievalEngine for a PaCHash store: one
// contiguous read bounded by the predecessor index's locate() window.
type QueryEngine struct {
	idx       pachashindex.Index
	blockSize int
	numBins   uint64
}

// NewQueryEngine builds a QueryEngine over idx for a store with the given
// block size and bin count (numBlocks * a).
func NewQueryEngine(idx pachashindex.Index, blockSize int, numBins uint64) *QueryEngine {
	return &QueryEngine{idx: idx, blockSize: blockSize, numBins: numBins}
}

type scratch struct {
	startBlock int
	count      int
}

// Enqueue implements query.RetrievalEngine.
func (e *QueryEngine) Enqueue(ioeng ioengine.Engine, h *query.Handle, tag ioengine.Tag) (int, error) {
	bin := key2bin(h.Key, e.numBins)
	i, count := e.idx.Locate(bin)
	need := count * e.blockSize
	if need > len(h.Buffer) {
		return 0, pacherrors.New(pacherrors.UsageError, "pachash.QueryEngine.Enqueue", "handle buffer too small for locate() window")
	}
	if err := ioeng.EnqueueRead(h.Buffer[:need], int64(i)*int64(e.blockSize), tag); err != nil {
		return 0, err
	}
	h.SetScratch(scratch{startBlock: i, count: count})
	h.Length = count
	return 1, nil
}

// Complete implements query.RetrievalEngine.
func (e *QueryEngine) Complete(h *query.Handle, remaining int) error {
	sc := h.Scratch().(scratch)
	if h.Stats != nil {
		h.Stats.BlocksFetched = sc.count
	}

	for b := 0; b < sc.count; b++ {
		blk := h.Buffer[b*e.blockSize : (b+1)*e.blockSize]
		v := block.Parse(blk)
		idx, ok := block.FindKey(v, h.Key)
		if !ok {
			continue
		}
		offset := v.Offset(idx)
		isLast := idx == v.NumObjects()-1
		var end int
		if isLast {
			end = v.EmptyPageEnd()
		} else {
			end = v.Offset(idx + 1)
		}
		length := end - offset

		if isLast && end == e.blockSize-storeconfig.OverheadPerBlock {
			length = e.followSpan(h.Buffer, b, offset, length, sc.count)
		}
		h.ResultPtr = h.Buffer[b*e.blockSize+offset : b*e.blockSize+offset+length]
		h.Length = length
		return nil
	}
	h.ResultPtr = nil
	h.Length = 0
	return nil
}

// followSpan walks forward from block startBlock's hit object (whose first
// chunk, of length total, already sits at the front of the hit block's
// object region) into subsequent already-loaded blocks, memmove-ing
// continuation bytes so the whole object ends up contiguous starting at
// the same buffer position. Returns the final total length.
func (e *QueryEngine) followSpan(buf []byte, startBlock, offset, total, loadedCount int) int {
	destBase := startBlock*e.blockSize + offset
	for nb := startBlock + 1; nb < loadedCount; nb++ {
		nblk := buf[nb*e.blockSize : (nb+1)*e.blockSize]
		nv := block.Parse(nblk)
		var contEnd int
		if nv.NumObjects() == 0 {
			contEnd = nv.EmptyPageEnd()
		} else {
			contEnd = nv.Offset(0)
		}
		copy(buf[destBase+total:destBase+total+contEnd], nblk[:contEnd])
		total += contEnd
		if nv.NumObjects() > 0 || contEnd < e.blockSize-storeconfig.OverheadPerBlock {
			break
		}
	}
	return total
}
