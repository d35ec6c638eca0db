package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
)

// Scanner is the background pattern scan: it periodically walks recently
// active tests, records flake patterns as Resonance rows, and refreshes
// duration baselines. Resonance records are derived and may be recomputed at
// any time.
type Scanner struct {
	svc      *Service
	flake    FlakeDetector
	interval time.Duration
	window   int
	logger   *slog.Logger
}

// NewScanner creates a scanner. A non-positive interval defaults to one
// minute.
func NewScanner(svc *Service, logger *slog.Logger, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scanner{
		svc:      svc,
		flake:    NewFlakeDetector(),
		interval: interval,
		window:   50,
		logger:   logger,
	}
}

// Run loops until the context is cancelled. Scan failures are logged and the
// loop continues; a transient storage fault must not kill the scanner.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	lastScan := time.Now().UTC().Add(-s.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now().UTC()
			if err := s.ScanOnce(ctx, lastScan); err != nil {
				s.logger.Warn("pattern scan failed", "error", err)
				continue
			}
			lastScan = now
		}
	}
}

// ScanOnce runs one scan pass over tests active since the given instant.
func (s *Scanner) ScanOnce(ctx context.Context, since time.Time) error {
	names, err := s.svc.db.ActiveTestNames(ctx, since, 0)
	if err != nil {
		return err
	}

	flagged := 0
	for _, name := range names {
		history, err := s.svc.db.RecentOutcomes(ctx, name, s.window)
		if err != nil {
			return err
		}
		if !s.flake.IsFlaky(history) {
			continue
		}

		score := s.flake.Score(history)
		now := time.Now().UTC()
		if err := s.svc.db.UpsertResonance(ctx, model.Resonance{
			ResonanceID:   ident.New(),
			PatternID:     "flake/" + name,
			Description:   fmt.Sprintf("flaky test detected: %s (score %.2f)", name, score),
			Score:         score,
			Occurrences:   1,
			FirstSeen:     now,
			LastSeen:      now,
			AffectedTests: []string{name},
		}); err != nil {
			return err
		}
		flagged++
	}

	written, err := s.svc.db.RefreshBaselines(ctx, s.window, time.Now().UTC())
	if err != nil {
		return err
	}

	if flagged > 0 || written > 0 {
		s.logger.Info("pattern scan complete",
			"tests_scanned", len(names), "flaky", flagged, "baselines", written)
	}
	return nil
}
