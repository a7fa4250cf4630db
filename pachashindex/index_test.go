package pachashindex

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildAll(t *testing.T, values []uint64, numBins uint64) map[string]Index {
	t.Helper()
	builders := map[string]Builder{
		"eliasfano":  NewEliasFanoBuilder(len(values), numBins),
		"bitvector":  NewBitVectorBuilder(len(values), numBins),
		"compressed": NewCompressedBitVectorBuilder(len(values), numBins),
	}
	out := make(map[string]Index, len(builders))
	for name, b := range builders {
		for _, v := range values {
			b.PushBack(v)
		}
		out[name] = b.Build()
	}
	return out
}

func TestLocateContainsStartingBlock(t *testing.T) {
	// firstBinInBlock for 10 blocks over 40 bins, monotone with gaps.
	values := []uint64{0, 0, 3, 3, 10, 15, 15, 20, 30, 39}
	numBins := uint64(40)
	indexes := buildAll(t, values, numBins)

	for name, idx := range indexes {
		for bin := uint64(0); bin < numBins; bin++ {
			startBlock := predecessorBlock(values, bin)
			i, count := idx.Locate(bin)
			require.GreaterOrEqual(t, startBlock, i, "%s: bin %d", name, bin)
			require.Less(t, startBlock, i+count, "%s: bin %d", name, bin)
		}
	}
}

// predecessorBlock is the brute-force ground truth: the largest block
// index whose recorded firstBinInBlock is <= bin (or 0 if none).
func predecessorBlock(values []uint64, bin uint64) int {
	best := 0
	for i, v := range values {
		if v <= bin {
			best = i
		} else {
			break
		}
	}
	return best
}

func TestLocateRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	numBlocks := 200
	numBins := uint64(1600)
	values := make([]uint64, numBlocks)
	var cur uint64
	for i := range values {
		cur += uint64(rng.Intn(12))
		values[i] = cur
	}
	if cur < numBins {
		cur = numBins
	}
	indexes := buildAll(t, values, cur+1)

	for name, idx := range indexes {
		for trial := 0; trial < 500; trial++ {
			bin := uint64(rng.Intn(int(cur) + 1))
			want := predecessorBlock(values, bin)
			i, count := idx.Locate(bin)
			require.GreaterOrEqual(t, want, i, "%s: bin %d", name, bin)
			require.Less(t, want, i+count, "%s: bin %d", name, bin)
		}
	}
}
