package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"agriassist-prices/internal/api"
	"agriassist-prices/internal/app"
	"agriassist-prices/internal/config"
	"agriassist-prices/internal/logging"
	"agriassist-prices/internal/services/refresh"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		slog.Debug("no .env file found")
	}
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub()
	go hub.Run(ctx)

	a, err := app.New(cfg, app.Options{Notifier: hub})
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.SchedulerEnabled {
		go refresh.NewScheduler(a.Reconciler, cfg.RefreshCheckInterval).Start(ctx)
	}

	router := api.NewRouter(api.Deps{
		Engine:        a.Engine,
		Partitions:    a.Partitions,
		Meta:          a.Meta,
		Popular:       a.Popular,
		Reconciler:    a.Reconciler,
		Hub:           hub,
		PopularMaxAge: cfg.PopularMaxAge,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "data_dir", cfg.DataDir, "scheduler", cfg.SchedulerEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}
