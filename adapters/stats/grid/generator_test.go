package grid

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gocutoff/adapters/stats/bounds"
	"gocutoff/domain/threshold"
	"gocutoff/internal/errors"
)

var oneToTen = []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

func TestPercentileRank(t *testing.T) {
	assert.Equal(t, 20.0, PercentileRank(oneToTen, 2.8))
	assert.Equal(t, 80.0, PercentileRank(oneToTen, 8.2))
	assert.Equal(t, 100.0, PercentileRank(oneToTen, 10))
	assert.Equal(t, 0.0, PercentileRank(oneToTen, 0.5))
	assert.Equal(t, 0.0, PercentileRank(nil, 3), "empty distribution ranks at 0")
}

func TestPercentiles_IncludesEndpoint(t *testing.T) {
	assert.Equal(t, []float64{20, 27, 34, 41, 48, 55, 62, 69, 76, 80}, Percentiles(20, 80, 7))
	assert.Equal(t, []float64{20, 40, 60, 80}, Percentiles(20, 80, 20))
	assert.Equal(t, []float64{50}, Percentiles(50, 50, 1))
	assert.Nil(t, Percentiles(60, 50, 1))
}

func TestGenerate_ScenarioOneToTen(t *testing.T) {
	b := threshold.FeatureBounds{Feature: "G1", Lower: 2.8, Upper: 8.2}

	candidates, err := Generate("G1", oneToTen, b, 1.0)
	require.NoError(t, err)
	require.Len(t, candidates, 61)

	assert.InDelta(t, 2.8, candidates[0].Value, 1e-9)
	assert.InDelta(t, 8.2, candidates[len(candidates)-1].Value, 1e-9)
	assert.Equal(t, 20.0, candidates[0].Percentile)
	assert.Equal(t, 80.0, candidates[len(candidates)-1].Percentile)
}

// Grids stay non-decreasing and inside the bounds for arbitrary data and bounds.
func TestGenerate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 200; trial++ {
		n := 5 + rng.Intn(60)
		values := make([]float64, n)
		for i := range values {
			// Coarse values produce ties, as in discrete count data.
			values[i] = float64(rng.Intn(12)) + rng.Float64()*float64(trial%2)
		}
		lo := bounds.Percentile(values, rng.Float64()*40) + rng.Float64()*0.3
		hi := bounds.Percentile(values, 60+rng.Float64()*40) - rng.Float64()*0.3
		b := threshold.FeatureBounds{Feature: "G", Lower: lo, Upper: hi}
		step := 0.5 + rng.Float64()*5

		candidates, err := Generate("G", values, b, step)
		require.NoError(t, err)

		if !b.Eligible() {
			assert.Empty(t, candidates)
			continue
		}
		require.NotEmpty(t, candidates)
		for i, c := range candidates {
			assert.GreaterOrEqual(t, c.Value, lo-1e-9, "trial %d candidate %d below lower bound", trial, i)
			assert.LessOrEqual(t, c.Value, hi+1e-9, "trial %d candidate %d above upper bound", trial, i)
			assert.Equal(t, i, c.Index)
			if i > 0 {
				assert.GreaterOrEqual(t, c.Percentile, candidates[i-1].Percentile)
			}
		}
	}
}

func TestGenerate_IneligibleAndEmpty(t *testing.T) {
	candidates, err := Generate("G1", oneToTen, threshold.FeatureBounds{Lower: 9, Upper: 3}, 1)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	candidates, err = Generate("G1", nil, threshold.FeatureBounds{Lower: 1, Upper: 3}, 1)
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestGenerate_RejectsNonPositiveStep(t *testing.T) {
	_, err := Generate("G1", oneToTen, threshold.FeatureBounds{Lower: 1, Upper: 3}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
}
