package analytics

import (
	"github.com/liminalqa/liminal/internal/model"
)

// FlakeDetector scores a test's outcome history by how often it switches
// between passing and failing. Only pass/fail/timeout outcomes participate;
// skips and expected failures are neutral.
type FlakeDetector struct {
	WindowSize int
	Threshold  float64
}

// NewFlakeDetector returns a detector with the standard window of 10
// outcomes and a flakiness threshold of 0.3.
func NewFlakeDetector() FlakeDetector {
	return FlakeDetector{WindowSize: 10, Threshold: 0.3}
}

// Score computes the switch ratio over the last WindowSize relevant
// outcomes: the number of pass↔fail transitions divided by the window size.
// History is ordered oldest first. Returns 0 for fewer than two relevant
// outcomes.
func (d FlakeDetector) Score(history []model.TestStatus) float64 {
	relevant := make([]bool, 0, len(history))
	for _, s := range history {
		switch s {
		case model.StatusPass:
			relevant = append(relevant, true)
		case model.StatusFail, model.StatusTimeout:
			relevant = append(relevant, false)
		}
	}
	if len(relevant) < 2 {
		return 0
	}

	window := relevant
	if len(window) > d.WindowSize {
		window = window[len(window)-d.WindowSize:]
	}

	switches := 0
	prev := window[0]
	for _, ok := range window[1:] {
		if ok != prev {
			switches++
		}
		prev = ok
	}
	return float64(switches) / float64(d.WindowSize)
}

// IsFlaky reports whether the history's switch ratio exceeds the threshold.
func (d FlakeDetector) IsFlaky(history []model.TestStatus) bool {
	return d.Score(history) > d.Threshold
}
