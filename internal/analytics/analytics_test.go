package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liminalqa/liminal/internal/model"
)

func TestComputeStabilityNoData(t *testing.T) {
	score, n := computeStability(nil)
	assert.Nil(t, score)
	assert.Zero(t, n)
}

func TestComputeStabilityAllAgree(t *testing.T) {
	score, n := computeStability(map[model.TestStatus]int{model.StatusPass: 10})
	require.NotNil(t, score)
	assert.Equal(t, 1.0, *score)
	assert.Equal(t, 10, n)

	// Consistent failure is still stable: the score measures agreement, not
	// health.
	score, _ = computeStability(map[model.TestStatus]int{model.StatusFail: 7})
	require.NotNil(t, score)
	assert.Equal(t, 1.0, *score)
}

func TestComputeStabilityMixed(t *testing.T) {
	// 7 pass + 3 fail over 10 runs: 1 − 2/10 = 0.8.
	score, n := computeStability(map[model.TestStatus]int{
		model.StatusPass: 7,
		model.StatusFail: 3,
	})
	require.NotNil(t, score)
	assert.InDelta(t, 0.8, *score, 1e-9)
	assert.Equal(t, 10, n)
}

func TestComputeStabilityMaxDisagreement(t *testing.T) {
	// Every outcome different: score below 1/N.
	counts := map[model.TestStatus]int{
		model.StatusPass:    1,
		model.StatusFail:    1,
		model.StatusXFail:   1,
		model.StatusFlake:   1,
		model.StatusTimeout: 1,
		model.StatusSkip:    1,
	}
	score, n := computeStability(counts)
	require.NotNil(t, score)
	assert.Equal(t, 6, n)
	assert.Less(t, *score, 1.0/float64(n))
	assert.GreaterOrEqual(t, *score, 0.0)
}

func TestComputeStabilityBounds(t *testing.T) {
	cases := []map[model.TestStatus]int{
		{model.StatusPass: 1},
		{model.StatusPass: 5, model.StatusFail: 5},
		{model.StatusPass: 1, model.StatusFail: 1},
		{model.StatusPass: 99, model.StatusFlake: 1},
	}
	for _, counts := range cases {
		score, _ := computeStability(counts)
		require.NotNil(t, score)
		assert.GreaterOrEqual(t, *score, 0.0)
		assert.LessOrEqual(t, *score, 1.0)
	}
}
