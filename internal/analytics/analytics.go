// Package analytics implements the query layer over the accumulated history:
// causality walk, resonance map, stability score, and the background
// flake/baseline scanner.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/storage"
)

// Defaults per query kind.
const (
	DefaultCausalityWindow = 5 * time.Minute
	DefaultResonanceBucket = time.Minute
	DefaultLookbackRuns    = 10
)

// Service answers analytic queries.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates the analytics service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// CausalityWalk returns the signals temporally adjacent to each failed or
// timed-out open fact in the run. A non-positive window selects the default.
func (s *Service) CausalityWalk(ctx context.Context, runID string, window time.Duration) ([]model.CausalityRow, error) {
	id, err := ident.Parse(runID)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = DefaultCausalityWindow
	}
	return s.db.CausalityWalk(ctx, id, window)
}

// ResonanceMap buckets the run's open facts by (floor(valid_from, bucket),
// status). A non-positive bucket selects the default.
func (s *Service) ResonanceMap(ctx context.Context, runID string, bucket time.Duration) ([]model.ResonanceBucket, error) {
	id, err := ident.Parse(runID)
	if err != nil {
		return nil, err
	}
	if bucket <= 0 {
		bucket = DefaultResonanceBucket
	}
	return s.db.ResonanceMap(ctx, id, bucket)
}

// StabilityScore summarizes outcome consistency of a test across its most
// recent lookback runs. Score is nil when the test has no recorded outcomes.
func (s *Service) StabilityScore(ctx context.Context, testName string, lookback int) (model.StabilityResult, error) {
	if lookback <= 0 {
		lookback = DefaultLookbackRuns
	}
	counts, err := s.db.StatusCounts(ctx, testName, lookback)
	if err != nil {
		return model.StabilityResult{}, err
	}

	res := model.StabilityResult{
		TestName:     testName,
		LookbackRuns: lookback,
	}
	res.Score, res.SampleSize = computeStability(counts)
	return res, nil
}

// computeStability maps status counts to a [0,1] score: 1.0 when every
// outcome agrees, otherwise 1 − distinct_statuses/total. Nil score for no
// data.
func computeStability(counts map[model.TestStatus]int) (*float64, int) {
	total := 0
	max := 0
	for _, n := range counts {
		total += n
		if n > max {
			max = n
		}
	}
	if total == 0 {
		return nil, 0
	}

	var score float64
	if max == total {
		score = 1.0
	} else {
		score = 1.0 - float64(len(counts))/float64(total)
	}
	return &score, total
}

// ListResonances returns detected instability patterns, strongest first.
func (s *Service) ListResonances(ctx context.Context, limit int) ([]model.Resonance, error) {
	return s.db.ListResonances(ctx, limit)
}
