package pachashindex

import (
	"github.com/willf/bitset"

	"github.com/packedstore/pachash/internal/wordset"
)

// BitVectorIndex is the uncompressed variant (spec §4.6 table row 2):
// numBlocks + numBins bits, same unary-code structure as the Elias-Fano
// high-bit vector but without any packed low bits, so locate() costs one
// select0 + one select1 + O(window). Construction accumulates directly
// into a willf/bitset.BitSet (the teacher's bit-vector dependency); at
// Build() time the set bits are handed to internal/wordset.RankSelect so
// that Select0/Select1 run in O(log n) rather than linear NextSet scans.
type BitVectorIndex struct {
	rs    *wordset.RankSelect
	n     int // number of pushed values (= numBlocks)
	words []uint64
}

type bitvectorBuilder struct {
	set     *bitset.BitSet
	numBins uint64
	n       int
	last    uint64
}

// NewBitVectorBuilder starts a builder for a sequence of numBlocks values
// drawn from [0, numBins).
func NewBitVectorBuilder(numBlocks int, numBins uint64) Builder {
	length := uint(numBlocks) + uint(numBins) + 1
	return &bitvectorBuilder{set: bitset.New(length), numBins: numBins}
}

func (b *bitvectorBuilder) PushBack(bin uint64) {
	b.set.Set(uint(bin) + uint(b.n))
	b.n++
	b.last = bin
}

func (b *bitvectorBuilder) Build() Index {
	words := make([]uint64, (b.set.Len()+63)/64)
	for i, ok := b.set.NextSet(0); ok; i, ok = b.set.NextSet(i + 1) {
		wordset.Set(words, int(i))
	}
	return &BitVectorIndex{
		rs:    wordset.NewRankSelect(words, int(b.set.Len())),
		n:     b.n,
		words: words,
	}
}

func (idx *BitVectorIndex) Space() int { return len(idx.words) * 64 }

func (idx *BitVectorIndex) Locate(bin uint64) (int, int) {
	return locate(bvSeq{idx}, bin)
}

type bvSeq struct{ idx *BitVectorIndex }

func (s bvSeq) len() int { return s.idx.n }

func (s bvSeq) at(i int) uint64 {
	pos := s.idx.rs.Select1(i)
	return uint64(pos - i)
}

func (s bvSeq) predecessorIndex(bin uint64) (int, bool) {
	// Same derivation as eliasfano.Sequence.PredecessorPosition, specialized
	// to the c=0 (no low bits) case: every element's "low part" is empty,
	// so the predecessor within bucket `bin` is simply its last element if
	// the bucket is non-empty, otherwise the last element of an earlier
	// bucket.
	var countBefore int
	if bin == 0 {
		countBefore = 0
	} else {
		zeroPos := s.idx.rs.Select0(int(bin) - 1)
		if zeroPos < 0 {
			countBefore = s.idx.n
		} else {
			countBefore = s.idx.rs.Rank1(zeroPos)
		}
	}
	if countBefore == s.idx.n {
		return s.idx.n - 1, true
	}
	// Elements in bucket `bin` (if any) all have value == bin exactly
	// (no low bits to distinguish them), so the last one in the bucket is
	// the predecessor; find it by walking forward while still == bin.
	idx := countBefore
	for idx+1 < s.idx.n && s.at(idx+1) == bin {
		idx++
	}
	if s.at(idx) > bin {
		if idx == 0 {
			return 0, false
		}
		return idx - 1, true
	}
	return idx, true
}
