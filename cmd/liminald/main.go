// liminald is the liminal test-observability service binary.
//
// Exit codes: 0 clean shutdown, 1 startup error (bad config or storage
// unreachable), 2 irrecoverable runtime error.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	liminal "github.com/liminalqa/liminal"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := liminal.New(ctx, liminal.WithVersion(version))
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		if errors.Is(err, liminal.ErrStartup) {
			slog.Error("startup failed", "error", err)
			return 1
		}
		slog.Error("fatal runtime error", "error", err)
		return 2
	}
	return 0
}
