package eliasfano

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildMonotone(t *testing.T, values []uint64, universe uint64) *Sequence {
	t.Helper()
	b := NewBuilder(universe, len(values))
	for _, v := range values {
		b.PushBack(v)
	}
	return b.Build()
}

func TestAtMatchesPushedValues(t *testing.T) {
	values := []uint64{0, 1, 1, 4, 7, 7, 7, 20, 21, 1000}
	seq := buildMonotone(t, values, 2000)
	require.Equal(t, len(values), seq.Len())
	for i, v := range values {
		require.Equal(t, v, seq.At(i), "index %d", i)
	}
}

func TestPredecessorPosition(t *testing.T) {
	values := []uint64{2, 5, 5, 9, 100}
	seq := buildMonotone(t, values, 200)

	cases := []struct {
		query   uint64
		wantIdx int
		wantOk  bool
	}{
		{1, 0, false},
		{2, 0, true},
		{3, 0, true},
		{5, 1, true}, // first occurrence of duplicate
		{6, 1, true},
		{9, 3, true},
		{50, 3, true},
		{100, 4, true},
		{5000, 4, true},
	}
	for _, c := range cases {
		p, ok := seq.PredecessorPosition(c.query)
		require.Equal(t, c.wantOk, ok, "query %d", c.query)
		if ok {
			require.Equal(t, c.wantIdx, p.Index(), "query %d", c.query)
			require.LessOrEqual(t, p.Value(), c.query)
		}
	}
}

func TestCursorIncDecRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	values := make([]uint64, 500)
	var cur uint64
	for i := range values {
		cur += uint64(rng.Intn(5))
		values[i] = cur
	}
	seq := buildMonotone(t, values, cur+1)

	p, ok := seq.PredecessorPosition(values[250])
	require.True(t, ok)
	start := p

	p.Inc()
	require.Equal(t, values[start.Index()+1], p.Value())
	p.Dec()
	require.Equal(t, start.Value(), p.Value())
	require.Equal(t, start.Index(), p.Index())
}

func TestPredecessorAgainstBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	values := make([]uint64, 300)
	var cur uint64
	for i := range values {
		cur += uint64(rng.Intn(7))
		values[i] = cur
	}
	seq := buildMonotone(t, values, cur+1)

	for trial := 0; trial < 200; trial++ {
		q := uint64(rng.Intn(int(cur) + 2))
		p, ok := seq.PredecessorPosition(q)

		maxLE := int64(-1)
		for _, v := range values {
			if v <= q && int64(v) > maxLE {
				maxLE = int64(v)
			}
		}
		if maxLE == -1 {
			require.False(t, ok, "query %d", q)
			continue
		}
		wantIdx := -1
		for i, v := range values {
			if v == uint64(maxLE) {
				wantIdx = i
				break
			}
		}
		require.True(t, ok, "query %d", q)
		require.Equal(t, wantIdx, p.Index(), "query %d", q)
	}
}
