package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liminalqa/liminal/internal/model"
)

func repeat(s model.TestStatus, n int) []model.TestStatus {
	out := make([]model.TestStatus, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func TestFlakeScoreStableHistories(t *testing.T) {
	d := NewFlakeDetector()

	assert.Zero(t, d.Score(repeat(model.StatusPass, 10)))
	assert.False(t, d.IsFlaky(repeat(model.StatusPass, 10)))

	assert.Zero(t, d.Score(repeat(model.StatusFail, 10)))
	assert.False(t, d.IsFlaky(repeat(model.StatusFail, 10)))
}

func TestFlakeScoreOscillating(t *testing.T) {
	d := NewFlakeDetector()

	// P F P F ... over 10 outcomes: 9 switches, score 0.9.
	history := make([]model.TestStatus, 10)
	for i := range history {
		if i%2 == 0 {
			history[i] = model.StatusPass
		} else {
			history[i] = model.StatusFail
		}
	}
	assert.InDelta(t, 0.9, d.Score(history), 1e-9)
	assert.True(t, d.IsFlaky(history))
}

func TestFlakeScoreFewSwitches(t *testing.T) {
	d := NewFlakeDetector()

	// P P P F F F P P P: two switches, score 0.2, under threshold.
	history := append(append(repeat(model.StatusPass, 3), repeat(model.StatusFail, 3)...), repeat(model.StatusPass, 3)...)
	assert.InDelta(t, 0.2, d.Score(history), 1e-9)
	assert.False(t, d.IsFlaky(history))
}

func TestFlakeScoreIgnoresNeutralOutcomes(t *testing.T) {
	d := NewFlakeDetector()

	// Skips and xfails carry no pass/fail information.
	history := []model.TestStatus{
		model.StatusPass, model.StatusSkip, model.StatusXFail,
		model.StatusFail, model.StatusSkip, model.StatusPass,
	}
	// Relevant sequence: P F P → 2 switches / window 10.
	assert.InDelta(t, 0.2, d.Score(history), 1e-9)
}

func TestFlakeScoreTimeoutCountsAsFailure(t *testing.T) {
	d := NewFlakeDetector()

	history := []model.TestStatus{model.StatusPass, model.StatusTimeout, model.StatusPass, model.StatusTimeout}
	assert.InDelta(t, 0.3, d.Score(history), 1e-9)
}

func TestFlakeScoreShortHistory(t *testing.T) {
	d := NewFlakeDetector()

	assert.Zero(t, d.Score(nil))
	assert.Zero(t, d.Score([]model.TestStatus{model.StatusPass}))
	assert.Zero(t, d.Score([]model.TestStatus{model.StatusSkip, model.StatusSkip}))
}

func TestFlakeScoreWindowsLongHistory(t *testing.T) {
	d := NewFlakeDetector()

	// Ancient oscillation outside the 10-outcome window must not count.
	old := make([]model.TestStatus, 20)
	for i := range old {
		if i%2 == 0 {
			old[i] = model.StatusPass
		} else {
			old[i] = model.StatusFail
		}
	}
	history := append(old, repeat(model.StatusPass, 10)...)
	assert.Zero(t, d.Score(history))
}
