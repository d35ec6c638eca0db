package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDriftStats(t *testing.T) {
	d := NewDriftDetector()

	mean, stddev := d.Stats([]float64{10, 12, 11, 13, 9})
	assert.InDelta(t, 11.0, mean, 1e-9)
	assert.Greater(t, stddev, 0.0)

	mean, stddev = d.Stats([]float64{42})
	assert.InDelta(t, 42.0, mean, 1e-9)
	assert.Zero(t, stddev)

	mean, stddev = d.Stats(nil)
	assert.Zero(t, mean)
	assert.Zero(t, stddev)
}

func TestDriftDetection(t *testing.T) {
	d := NewDriftDetector()

	// 1σ from a (100, 10) baseline: no drift.
	assert.False(t, d.IsDrift(110, 100, 10))

	// 2.5σ in either direction: drift.
	assert.True(t, d.IsDrift(125, 100, 10))
	assert.True(t, d.IsDrift(75, 100, 10))
}

func TestDriftZeroStddev(t *testing.T) {
	d := NewDriftDetector()

	assert.Zero(t, d.ZScore(500, 100, 0))
	assert.False(t, d.IsDrift(500, 100, 0))
}
