// Command daemon runs the weekly price reconciliation and retention cleanup
// without the HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"agriassist-prices/internal/app"
	"agriassist-prices/internal/config"
	"agriassist-prices/internal/logging"
	"agriassist-prices/internal/services/refresh"
)

var (
	once  = flag.Bool("once", false, "run a single check and exit")
	force = flag.Bool("force", false, "with -once, refresh even when not due")
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		res, err := a.Reconciler.Run(ctx, refresh.RunOptions{Force: *force})
		if err != nil {
			slog.Error("refresh failed", "error", err)
			os.Exit(1)
		}
		slog.Info("refresh done", "outcome", res.Outcome, "records", res.Records, "error", res.Error)
		if _, err := a.Reconciler.Cleanup(ctx); err != nil {
			slog.Error("cleanup failed", "error", err)
			os.Exit(1)
		}
		return
	}

	slog.Info("daemon started", "pid", os.Getpid(), "interval", cfg.RefreshCheckInterval,
		"anchor_day", cfg.RefreshAnchorDay, "retention_days", cfg.RetentionDays)
	refresh.NewScheduler(a.Reconciler, cfg.RefreshCheckInterval).Start(ctx)
}
