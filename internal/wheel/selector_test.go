package wheel

import (
	"errors"
	"testing"

	"prize_wheel/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always draws r.
type fixedSource int64

func (f fixedSource) Int63n(n int64) (int64, error) { return int64(f) % n, nil }

type failingSource struct{}

func (failingSource) Int63n(int64) (int64, error) { return 0, errors.New("entropy unavailable") }

func weighted(ws ...int) []model.Prize {
	out := make([]model.Prize, len(ws))
	for i, w := range ws {
		out[i] = model.Prize{ID: uint(i + 1), Weight: w, QuantityTotal: 1, QuantityRemaining: 1}
	}
	return out
}

func TestSelectWeighted_Boundaries(t *testing.T) {
	prizes := weighted(10, 20, 70)
	cases := []struct {
		r    int64
		want uint
	}{
		{0, 1}, {9, 1},
		{10, 2}, {29, 2},
		{30, 3}, {99, 3},
	}
	for _, tc := range cases {
		got, err := SelectWeighted(prizes, fixedSource(tc.r))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.ID, "r=%d", tc.r)
	}
}

func TestSelectWeighted_Distribution(t *testing.T) {
	const trials = 100000
	prizes := weighted(10, 20, 70)
	counts := map[uint]int{}
	for i := 0; i < trials; i++ {
		p, err := SelectWeighted(prizes, CryptoSource)
		require.NoError(t, err)
		counts[p.ID]++
	}
	for id, want := range map[uint]float64{1: 0.10, 2: 0.20, 3: 0.70} {
		got := float64(counts[id]) / trials
		assert.InDelta(t, want, got, 0.01, "prize %d", id)
	}
}

func TestSelectWeighted_Edges(t *testing.T) {
	_, err := SelectWeighted(nil, CryptoSource)
	assert.ErrorIs(t, err, ErrNoCandidates)

	single, err := SelectWeighted(weighted(3), fixedSource(2))
	require.NoError(t, err)
	assert.Equal(t, uint(1), single.ID)

	// 非正权重时退回最后一个
	last, err := SelectWeighted(weighted(0, 0), fixedSource(0))
	require.NoError(t, err)
	assert.Equal(t, uint(2), last.ID)

	_, err = SelectWeighted(weighted(1, 1), failingSource{})
	assert.EqualError(t, err, "entropy unavailable")
}
