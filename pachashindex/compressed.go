package pachashindex

import (
	"math/bits"

	"github.com/klauspost/compress/zstd"

	"github.com/packedstore/pachash/internal/wordset"
)

// chunkBits is the granularity at which the compressed variant splits the
// underlying bit-vector: each chunk is compressed independently so that
// locate() only has to decompress one small chunk rather than the whole
// index (spec §4.6 table row 3: "sublinear extra [space], same
// asymptotics, slower constants").
const chunkBits = 1 << 16 // 65536 bits = 8 KiB uncompressed per chunk

// CompressedBitVectorIndex is the block-compressed variant: the same
// unary bit-vector as BitVectorIndex, stored as independently
// zstd-compressed chunks plus a small per-chunk rank table so Locate can
// jump straight to, and decompress only, the chunk(s) it needs.
type CompressedBitVectorIndex struct {
	n          int
	totalBits  int
	chunks     [][]byte // compressed chunk payloads
	chunkRank1 []int    // cumulative popcount before each chunk
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
}

type compressedBuilder struct {
	numBins uint64
	n       int
	raw     []uint64
}

// NewCompressedBitVectorBuilder starts a builder for a sequence of
// numBlocks values drawn from [0, numBins).
func NewCompressedBitVectorBuilder(numBlocks int, numBins uint64) Builder {
	length := numBlocks + int(numBins) + 1
	return &compressedBuilder{numBins: numBins, raw: wordset.NewClearBits(length)}
}

func (b *compressedBuilder) PushBack(bin uint64) {
	wordset.Set(b.raw, int(bin)+b.n)
	b.n++
}

func (b *compressedBuilder) Build() Index {
	totalBits := len(b.raw) * 64
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)

	wordsPerChunk := chunkBits / 64
	var chunks [][]byte
	var chunkRank1 []int
	rank := 0
	for start := 0; start < len(b.raw); start += wordsPerChunk {
		end := start + wordsPerChunk
		if end > len(b.raw) {
			end = len(b.raw)
		}
		chunkRank1 = append(chunkRank1, rank)
		raw := uint64SliceToBytes(b.raw[start:end])
		compressed := enc.EncodeAll(raw, nil)
		chunks = append(chunks, compressed)
		rank += popcountRange(b.raw, start, end)
	}

	return &CompressedBitVectorIndex{
		n:          b.n,
		totalBits:  totalBits,
		chunks:     chunks,
		chunkRank1: chunkRank1,
		encoder:    enc,
		decoder:    dec,
	}
}

func popcountRange(data []uint64, start, end int) int {
	c := 0
	for _, w := range data[start:end] {
		c += bits.OnesCount64(w)
	}
	return c
}

func uint64SliceToBytes(words []uint64) []byte {
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(w >> (8 * j))
		}
	}
	return buf
}

func bytesToUint64Slice(buf []byte) []uint64 {
	words := make([]uint64, len(buf)/8)
	for i := range words {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(buf[i*8+j]) << (8 * j)
		}
		words[i] = w
	}
	return words
}

// decompressChunk reconstructs a single chunk's word slice, decoding it
// fresh each call: the compressed representation is never kept expanded in
// memory across calls, trading CPU for the sublinear resident space
// spec §4.6 calls out.
func (c *CompressedBitVectorIndex) decompressChunk(chunkIdx int) ([]uint64, error) {
	raw, err := c.decoder.DecodeAll(c.chunks[chunkIdx], nil)
	if err != nil {
		return nil, err
	}
	return bytesToUint64Slice(raw), nil
}

func (c *CompressedBitVectorIndex) wordsPerChunk() int { return chunkBits / 64 }

// chunkRankSelect decompresses chunk chunkIdx and returns a
// wordset.RankSelect scoped to that chunk plus the chunk's base rank.
func (c *CompressedBitVectorIndex) chunkRankSelect(chunkIdx int) (*wordset.RankSelect, int, error) {
	words, err := c.decompressChunk(chunkIdx)
	if err != nil {
		return nil, 0, err
	}
	nBits := len(words) * 64
	return wordset.NewRankSelect(words, nBits), c.chunkRank1[chunkIdx], nil
}

func (c *CompressedBitVectorIndex) Space() int {
	total := 0
	for _, chunk := range c.chunks {
		total += len(chunk) * 8
	}
	return total + len(c.chunkRank1)*64
}

func (c *CompressedBitVectorIndex) Locate(bin uint64) (int, int) {
	idx, ok := c.predecessorIndex(bin)
	if !ok {
		idx = 0
	} else if v, _ := c.at(idx); v == bin && idx > 0 {
		idx--
	}
	end := idx
	for end+1 < c.n {
		v, _ := c.at(end + 1)
		if v > bin {
			break
		}
		end++
	}
	return idx, end - idx + 1
}

// at returns the value of the idx-th pushed bin, by locating which chunk
// its set bit falls in via the chunk rank table, then decompressing only
// that chunk.
func (c *CompressedBitVectorIndex) at(idx int) (uint64, bool) {
	// Find the chunk whose [chunkRank1[k], chunkRank1[k+1]) range contains
	// the idx-th one bit.
	chunkIdx := len(c.chunkRank1) - 1
	for k := 0; k < len(c.chunkRank1); k++ {
		if k+1 == len(c.chunkRank1) || c.chunkRank1[k+1] > idx {
			chunkIdx = k
			break
		}
	}
	rs, baseRank, err := c.chunkRankSelect(chunkIdx)
	if err != nil {
		return 0, false
	}
	localIdx := idx - baseRank
	pos := rs.Select1(localIdx)
	if pos < 0 {
		return 0, false
	}
	globalPos := chunkIdx*c.wordsPerChunk()*64 + pos
	return uint64(globalPos - idx), true
}

func (c *CompressedBitVectorIndex) predecessorIndex(bin uint64) (int, bool) {
	if c.n == 0 {
		return 0, false
	}
	// Binary search over element index for the predecessor, using at()
	// (each call decompresses one chunk) since the chunked layout makes a
	// direct select0-based jump expensive to express across chunk
	// boundaries; O(log n) chunk decompressions per query.
	lo, hi := 0, c.n-1
	if v, _ := c.at(0); v > bin {
		return 0, false
	}
	for lo < hi {
		mid := (lo + hi + 1) / 2
		v, _ := c.at(mid)
		if v <= bin {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, true
}
