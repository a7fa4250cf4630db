package pachashindex

import "github.com/packedstore/pachash/eliasfano"

// EliasFanoIndex is the near-optimal-space variant for monotone
// firstBinInBlock sequences (spec §4.6 table row 1).
type EliasFanoIndex struct {
	seq *eliasfano.Sequence
}

type efBuilder struct {
	b *eliasfano.Builder
}

// NewEliasFanoBuilder starts a builder for a sequence of numBlocks values
// drawn from [0, numBins).
func NewEliasFanoBuilder(numBlocks int, numBins uint64) Builder {
	return &efBuilder{b: eliasfano.NewBuilder(numBins, numBlocks)}
}

func (e *efBuilder) PushBack(bin uint64) { e.b.PushBack(bin) }

func (e *efBuilder) Build() Index { return &EliasFanoIndex{seq: e.b.Build()} }

func (e *EliasFanoIndex) Space() int { return e.seq.Space() }

func (e *EliasFanoIndex) Locate(bin uint64) (int, int) {
	return locate(efSeq{e.seq}, bin)
}

type efSeq struct{ seq *eliasfano.Sequence }

func (s efSeq) len() int        { return s.seq.Len() }
func (s efSeq) at(i int) uint64 { return s.seq.At(i) }

func (s efSeq) predecessorIndex(bin uint64) (int, bool) {
	p, ok := s.seq.PredecessorPosition(bin)
	if !ok {
		return 0, false
	}
	return p.Index(), true
}
