// Package liminal is the public API for embedding the liminal
// test-observability server.
//
// External consumers — the report renderer, the dashboard, the CLI wrapper —
// construct and extend the server without forking it:
//
//	app, err := liminal.New(ctx,
//	    liminal.WithVersion(version),
//	    liminal.WithLogger(logger),
//	    liminal.WithMetricsSink(mySink),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: liminal (root) imports
// internal/*, but internal/* never imports the root.
package liminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liminalqa/liminal/internal/analytics"
	"github.com/liminalqa/liminal/internal/auth"
	"github.com/liminalqa/liminal/internal/config"
	"github.com/liminalqa/liminal/internal/facts"
	"github.com/liminalqa/liminal/internal/ident"
	"github.com/liminalqa/liminal/internal/model"
	"github.com/liminalqa/liminal/internal/ratelimit"
	"github.com/liminalqa/liminal/internal/server"
	"github.com/liminalqa/liminal/internal/storage"
	"github.com/liminalqa/liminal/internal/telemetry"
	"github.com/liminalqa/liminal/migrations"
)

// ErrStartup marks failures before the server began serving: bad config,
// unreachable storage, failed migrations. The binary maps it to exit code 1.
var ErrStartup = errors.New("liminal: startup failed")

// App is the liminal server lifecycle. Construct with New, run with Run.
type App struct {
	cfg      config.Config
	opts     resolvedOptions
	logger   *slog.Logger
	db       *storage.DB
	mgr      *facts.Manager
	queries  *analytics.Service
	srv      *server.Server
	scanner  *analytics.Scanner
	limiter  ratelimit.Limiter
	otelStop telemetry.Shutdown
}

// New loads configuration, connects to storage, runs migrations, and wires
// the server. It does not start serving; call Run.
func New(ctx context.Context, opts ...Option) (*App, error) {
	resolved := defaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStartup, err)
	}
	resolved.apply(&cfg)

	logger := resolved.logger
	if logger == nil {
		level, _ := cfg.SlogLevel()
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	otelStop, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, resolved.version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("%w: telemetry: %v", ErrStartup, err)
	}

	db, err := storage.New(ctx, cfg.StorageURL, logger)
	if err != nil {
		_ = otelStop(context.Background())
		return nil, fmt.Errorf("%w: storage: %v", ErrStartup, err)
	}

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close()
		_ = otelStop(context.Background())
		return nil, fmt.Errorf("%w: migrations: %v", ErrStartup, err)
	}
	for _, extra := range resolved.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			db.Close()
			_ = otelStop(context.Background())
			return nil, fmt.Errorf("%w: extra migrations: %v", ErrStartup, err)
		}
	}

	var verifier *auth.Verifier
	if cfg.APITokenHash != "" {
		verifier, err = auth.NewHashedVerifier(cfg.APITokenHash)
	} else {
		verifier, err = auth.NewVerifier(cfg.APIToken)
	}
	if err != nil {
		db.Close()
		_ = otelStop(context.Background())
		return nil, fmt.Errorf("%w: auth: %v", ErrStartup, err)
	}

	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.IngestRateLimit > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.IngestRateLimit, cfg.IngestRateBurst)
		logger.Info("rate limiting enabled",
			"rps", cfg.IngestRateLimit, "burst", cfg.IngestRateBurst)
	}

	sink := resolved.sink
	if sink == nil {
		otelSink, err := telemetry.NewOTelSink()
		if err != nil {
			db.Close()
			_ = otelStop(context.Background())
			return nil, fmt.Errorf("%w: metrics: %v", ErrStartup, err)
		}
		sink = otelSink
	}

	mgr := facts.NewManager(db, logger, cfg.LockShards)
	queries := analytics.New(db, logger)
	scanner := analytics.NewScanner(queries, logger, cfg.ScanInterval)

	srv := server.New(server.ServerConfig{
		DB:             db,
		Manager:        mgr,
		Queries:        queries,
		Verifier:       verifier,
		Logger:         logger,
		Limiter:        limiter,
		Sink:           sink,
		BindAddr:       cfg.BindAddr,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		RequestTimeout: cfg.RequestTimeout,
		Version:        resolved.version,
		BodyMaxBytes:   cfg.BodyMaxBytes,
		BatchMaxBytes:  cfg.BatchMaxBytes,
	})

	return &App{
		cfg:      cfg,
		opts:     resolved,
		logger:   logger,
		db:       db,
		mgr:      mgr,
		queries:  queries,
		srv:      srv,
		scanner:  scanner,
		limiter:  limiter,
		otelStop: otelStop,
	}, nil
}

// Run serves HTTP and the background pattern scan until ctx is cancelled,
// then shuts down gracefully. A server error after startup is irrecoverable.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	a.logger.Info("liminal starting",
		"version", a.opts.version, "addr", a.cfg.BindAddr)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := a.scanner.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.Info("liminal stopped")
	return nil
}

func (a *App) close() {
	a.limiter.Close()
	a.db.Close()
	if a.otelStop != nil {
		_ = a.otelStop(context.Background())
	}
}

// Handler returns the root HTTP handler, for consumers that mount the API
// inside their own server instead of calling Run.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// RunSummary is the public projection of a stored run. Consumers outside
// the module cannot name internal types, so listing surfaces convert.
type RunSummary struct {
	RunID     string
	PlanName  string
	StartedAt time.Time
	EndedAt   *time.Time
}

// RecentRuns lists the most recently started runs, newest first, for
// consumers that render run pickers or reports.
func (a *App) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	runs, err := a.db.ListRecentRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunSummary, len(runs))
	for i, r := range runs {
		out[i] = RunSummary{
			RunID:     r.RunID,
			PlanName:  r.PlanName,
			StartedAt: r.StartedAt,
			EndedAt:   r.EndedAt,
		}
	}
	return out, nil
}

// System registers a system under test. Registration is idempotent.
type System struct {
	ID         string
	Name       string
	Version    string
	Repository string
}

// RegisterSystem records a system under test. An empty ID allocates one; the
// assigned ID is returned.
func (a *App) RegisterSystem(ctx context.Context, s System) (string, error) {
	id, err := ident.OrNew(s.ID)
	if err != nil {
		return "", err
	}
	rec := model.System{
		SystemID:  id,
		Name:      s.Name,
		CreatedAt: time.Now().UTC(),
	}
	if s.Version != "" {
		rec.Version = &s.Version
	}
	if s.Repository != "" {
		rec.Repository = &s.Repository
	}
	return id, a.db.CreateSystem(ctx, rec)
}

// Build registers one build of a system.
type Build struct {
	ID        string
	SystemID  string
	CommitSHA string
	Branch    string
	Version   string
}

// RegisterBuild records a build. An empty ID allocates one; the assigned ID
// is returned.
func (a *App) RegisterBuild(ctx context.Context, b Build) (string, error) {
	id, err := ident.OrNew(b.ID)
	if err != nil {
		return "", err
	}
	systemID, err := ident.Parse(b.SystemID)
	if err != nil {
		return "", err
	}
	return id, a.db.CreateBuild(ctx, model.Build{
		BuildID:   id,
		SystemID:  systemID,
		CommitSHA: b.CommitSHA,
		Branch:    b.Branch,
		Version:   b.Version,
		CreatedAt: time.Now().UTC(),
	})
}
