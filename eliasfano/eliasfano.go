// Package eliasfano implements C5: a static monotone sequence supporting
// predecessor queries in amortized O(1) via an incrementable/decrementable
// cursor, avoiding repeated select queries on the walk (spec §4.5).
// Grounded on original_source/include/EliasFano.h: low bits packed into an
// array L, high bits unary-coded into a bit-vector H, with
// Rank/Select-based predecessor search built from internal/wordset.
package eliasfano

import (
	"math/bits"

	"github.com/packedstore/pachash/internal/wordset"
)

// Builder accumulates a non-decreasing sequence of values in [0, universe)
// via PushBack, then Build() compresses it into a Sequence.
type Builder struct {
	universe uint64
	values   []uint64
}

// NewBuilder starts a builder for n values drawn from [0, universe).
func NewBuilder(universe uint64, n int) *Builder {
	b := &Builder{universe: universe}
	if n > 0 {
		b.values = make([]uint64, 0, n)
	}
	return b
}

// PushBack appends v, which must be >= the previously pushed value.
func (b *Builder) PushBack(v uint64) {
	if len(b.values) > 0 && v < b.values[len(b.values)-1] {
		panic("eliasfano: PushBack values must be non-decreasing")
	}
	b.values = append(b.values, v)
}

// Len returns the number of values pushed so far.
func (b *Builder) Len() int { return len(b.values) }

// Sequence is an immutable, compressed non-decreasing sequence supporting
// At (one Select1 query on the high bits, a binary search over their words,
// so O(log n) rather than constant time) and PredecessorPosition /
// cursor-based traversal.
type Sequence struct {
	n         int
	universe  uint64
	lowBits   int // c = ceil(log2(universe/n))
	lowMask   uint64
	low       []uint64 // n*lowBits bits, packed
	high      *wordset.RankSelect
	highWords []uint64
}

// Build compresses the accumulated values into a Sequence. O(n) time.
func (b *Builder) Build() *Sequence {
	n := len(b.values)
	s := &Sequence{n: n, universe: b.universe}
	if n == 0 {
		s.high = wordset.NewRankSelect(wordset.NewClearBits(1), 1)
		return s
	}

	ratio := b.universe / uint64(n)
	c := 0
	for (uint64(1) << uint(c)) < ratio {
		c++
	}
	s.lowBits = c
	s.lowMask = (uint64(1) << uint(c)) - 1

	lowWords := (n*c + 63) / 64
	s.low = make([]uint64, lowWords)
	for i, v := range b.values {
		putBits(s.low, i*c, c, v&s.lowMask)
	}

	lastHigh := b.values[n-1] >> uint(c)
	highLen := n + int(lastHigh) + 1
	highData := wordset.NewClearBits(highLen)
	for i, v := range b.values {
		h := v >> uint(c)
		wordset.Set(highData, int(h)+i)
	}
	s.highWords = highData
	s.high = wordset.NewRankSelect(highData, highLen)
	return s
}

// putBits writes the low nbits bits of v into a packed bit array at bit
// offset off.
func putBits(data []uint64, off, nbits int, v uint64) {
	for i := 0; i < nbits; i++ {
		if v&(1<<uint(i)) != 0 {
			wordset.Set(data, off+i)
		}
	}
}

func getBits(data []uint64, off, nbits int) uint64 {
	var v uint64
	for i := 0; i < nbits; i++ {
		if wordset.Test(data, off+i) {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Len returns the number of stored values.
func (s *Sequence) Len() int { return s.n }

// At returns the i-th pushed value, 0 <= i < Len().
func (s *Sequence) At(i int) uint64 {
	hPos := s.high.Select1(i)
	high := uint64(hPos - i)
	low := getBits(s.low, i*s.lowBits, s.lowBits)
	return (high << uint(s.lowBits)) | low
}

// Space returns the approximate number of bits used by the sequence.
func (s *Sequence) Space() int {
	return len(s.low)*64 + len(s.highWords)*64
}

// ElementPointer is a cursor into the sequence, tracking the position of
// the current element's set bit in H so that Inc/Dec can walk locally
// without issuing a fresh select query each time (spec §4.5).
type ElementPointer struct {
	seq   *Sequence
	index int
	hPos  int // position of the set bit in H corresponding to index
}

// Index returns the cursor's current element index.
func (p ElementPointer) Index() int { return p.index }

// Value returns the value at the cursor's current position.
func (p ElementPointer) Value() uint64 {
	high := uint64(p.hPos - p.index)
	low := getBits(p.seq.low, p.index*p.seq.lowBits, p.seq.lowBits)
	return (high << uint(p.seq.lowBits)) | low
}

// Inc advances the cursor to the next element (amortized O(1)): undefined
// if already at the last element.
func (p *ElementPointer) Inc() {
	p.index++
	p.hPos = nextSetBit(p.seq.highWords, p.hPos+1)
}

// Dec moves the cursor to the previous element (amortized O(1)): undefined
// if already at the first element.
func (p *ElementPointer) Dec() {
	p.index--
	p.hPos = prevSetBit(p.seq.highWords, p.hPos-1)
}

func nextSetBit(data []uint64, from int) int {
	wordIdx := from / 64
	if wordIdx >= len(data) {
		return -1
	}
	bitOff := from % 64
	word := data[wordIdx] >> uint(bitOff)
	if word != 0 {
		return from + bits.TrailingZeros64(word)
	}
	for wordIdx++; wordIdx < len(data); wordIdx++ {
		if data[wordIdx] != 0 {
			return wordIdx*64 + bits.TrailingZeros64(data[wordIdx])
		}
	}
	return -1
}

func prevSetBit(data []uint64, from int) int {
	if from < 0 {
		return -1
	}
	wordIdx := from / 64
	bitOff := from % 64
	word := data[wordIdx] << uint(63-bitOff)
	if word != 0 {
		return from - bits.LeadingZeros64(word)
	}
	for wordIdx--; wordIdx >= 0; wordIdx-- {
		if data[wordIdx] != 0 {
			return wordIdx*64 + 63 - bits.LeadingZeros64(data[wordIdx])
		}
	}
	return -1
}

// PredecessorPosition returns a cursor to the largest stored value <= v. ok
// is false if v is smaller than every stored value (sequence is empty, or
// all elements exceed v), in which case the cursor is undefined.
func (s *Sequence) PredecessorPosition(v uint64) (p ElementPointer, ok bool) {
	if s.n == 0 {
		return ElementPointer{}, false
	}
	high := v >> uint(s.lowBits)

	// countBefore = number of elements with high part strictly less than
	// `high`. Select0(k) lands on the zero bit that completes the (k+1)-th
	// bucket transition, so Rank1 there counts elements with high part <=
	// k; using k = high-1 gives the elements with high part < high. Every
	// element at index >= countBefore has high part >= `high`
	// (monotonicity), so it is either in bucket `high` or beyond it.
	var countBefore int
	if high == 0 {
		countBefore = 0
	} else {
		zeroPos := s.high.Select0(int(high) - 1)
		if zeroPos < 0 {
			countBefore = s.n
		} else {
			countBefore = s.high.Rank1(zeroPos)
		}
	}

	if countBefore == s.n {
		// No element reaches bucket `high`: the last element is the
		// predecessor (it necessarily has value < v).
		return pointerAt(s, s.n-1), true
	}

	idx := countBefore
	cur := pointerAt(s, idx)
	if cur.Value() > v {
		// Bucket `high` is empty or its first element already exceeds v:
		// the predecessor, if any, is the last element before this bucket.
		if idx == 0 {
			return ElementPointer{}, false
		}
		cur.Dec()
		return firstOfRun(cur), true
	}

	// Scan forward while elements stay <= v; the sequence is monotone, so
	// the first element exceeding v ends the run and the previous element
	// is the predecessor.
	for idx+1 < s.n {
		next := cur
		next.Inc()
		if next.Value() > v {
			break
		}
		cur = next
		idx++
	}
	return firstOfRun(cur), true
}

func pointerAt(s *Sequence, idx int) ElementPointer {
	return ElementPointer{seq: s, index: idx, hPos: s.high.Select1(idx)}
}

// firstOfRun walks p backward across any run of elements sharing p's
// value, returning a cursor at the first (lowest-index) occurrence, per
// spec §4.5's tie-breaking rule.
func firstOfRun(p ElementPointer) ElementPointer {
	v := p.Value()
	for p.index > 0 {
		prev := p
		prev.Dec()
		if prev.Value() != v {
			break
		}
		p = prev
	}
	return p
}
