package liminal

import (
	"io/fs"
	"log/slog"

	"github.com/liminalqa/liminal/internal/config"
	"github.com/liminalqa/liminal/internal/telemetry"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger          *slog.Logger
	version         string
	bindAddr        string
	storageURL      string
	apiToken        string
	sink            telemetry.Sink
	extraMigrations []fs.FS
}

func defaultOptions() resolvedOptions {
	return resolvedOptions{version: "dev"}
}

// apply overlays non-zero option values on the environment-derived config.
func (o resolvedOptions) apply(cfg *config.Config) {
	if o.bindAddr != "" {
		cfg.BindAddr = o.bindAddr
	}
	if o.storageURL != "" {
		cfg.StorageURL = o.storageURL
	}
	if o.apiToken != "" {
		cfg.APIToken = o.apiToken
		cfg.APITokenHash = ""
	}
}

// WithLogger replaces the default JSON logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithBindAddr overrides the listen address from config.
func WithBindAddr(addr string) Option {
	return func(o *resolvedOptions) { o.bindAddr = addr }
}

// WithStorageURL overrides the storage connection string from config.
func WithStorageURL(url string) Option {
	return func(o *resolvedOptions) { o.storageURL = url }
}

// WithAPIToken overrides the shared ingest secret from config.
func WithAPIToken(token string) Option {
	return func(o *resolvedOptions) { o.apiToken = token }
}

// WithMetricsSink replaces the OTel-backed metrics sink.
func WithMetricsSink(sink telemetry.Sink) Option {
	return func(o *resolvedOptions) { o.sink = sink }
}

// WithExtraMigrations appends migration filesystems run after the embedded
// schema, for consumers that add their own tables.
func WithExtraMigrations(fsys ...fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, fsys...) }
}
