// Package app wires the price store, query engine and reconciler from
// configuration. Every binary builds its components through here.
package app

import (
	"fmt"
	"log/slog"

	"agriassist-prices/internal/cache"
	"agriassist-prices/internal/config"
	"agriassist-prices/internal/database"
	"agriassist-prices/internal/models"
	"agriassist-prices/internal/query"
	"agriassist-prices/internal/services/agmarknet"
	"agriassist-prices/internal/services/refresh"
	"agriassist-prices/internal/storage"
)

type App struct {
	Config     *config.Config
	Partitions *storage.PartitionStore
	Meta       *storage.MetaStore
	Popular    *storage.PopularStore
	Engine     *query.Engine
	Reconciler *refresh.Reconciler
	Archive    *database.Archive // nil when DATABASE_URL is empty
}

// Options adjusts wiring per binary.
type Options struct {
	// Notifier receives refresh events; may be nil.
	Notifier refresh.Notifier
	// SkipArchive leaves the MySQL archive disconnected.
	SkipArchive bool
}

// New initializes the data directory and builds every component.
func New(cfg *config.Config, opts Options) (*App, error) {
	parts := storage.NewPartitionStore(cfg.DataDir)
	if err := parts.Init(); err != nil {
		return nil, fmt.Errorf("init data dir: %w", err)
	}
	meta := storage.NewMetaStore(cfg.DataDir)
	popular := storage.NewPopularStore(parts, cfg.PopularTopN, cfg.PopularLookbackDays)

	engine := query.NewEngine(parts,
		cache.New[[]models.PriceRecord]("query", cfg.CacheCapacity, cfg.CacheTTL),
		cache.New[*query.FilterOptions]("filter_options", cfg.CacheCapacity, cfg.CacheTTL),
		cfg.Location())

	a := &App{
		Config:     cfg,
		Partitions: parts,
		Meta:       meta,
		Popular:    popular,
		Engine:     engine,
	}

	deps := refresh.Deps{
		Source:     Sources(cfg),
		Partitions: parts,
		Meta:       meta,
		Popular:    popular,
		Cache:      engine,
		Notifier:   opts.Notifier,
	}
	if cfg.DatabaseURL != "" && !opts.SkipArchive {
		db, err := database.Initialize(cfg.DatabaseURL)
		if err != nil {
			// the archive is optional; the partitions stay authoritative
			slog.Warn("price archive disabled", "error", err)
		} else {
			a.Archive = database.NewArchive(db)
			deps.Archive = a.Archive
		}
	}

	a.Reconciler = refresh.NewReconciler(deps, refresh.Options{
		Policy:        refresh.NewPolicy(cfg.RefreshAnchorDay, cfg.Location()),
		FetchTimeout:  cfg.FetchTimeout,
		States:        cfg.RefreshStates,
		RetentionDays: cfg.RetentionDays,
	})
	return a, nil
}

// Sources builds the fetch chain: API, then the HTML report when
// configured, then synthetic data only when explicitly allowed.
func Sources(cfg *config.Config) agmarknet.Chain {
	chain := agmarknet.Chain{agmarknet.NewClient(cfg.AgmarknetAPIURL, cfg.AgmarknetAPIKey, cfg.FetchTimeout)}
	if cfg.AgmarknetScrapeURL != "" {
		chain = append(chain, agmarknet.NewScraper(cfg.AgmarknetScrapeURL, cfg.FetchTimeout))
	}
	if cfg.AllowSyntheticFallback {
		slog.Warn("synthetic price fallback enabled; generated records are flagged synthetic-fallback")
		chain = append(chain, agmarknet.Synthetic{})
	}
	return chain
}

// Close releases external connections.
func (a *App) Close() {
	if a.Archive != nil {
		if err := a.Archive.Close(); err != nil {
			slog.Warn("close price archive", "error", err)
		}
	}
}
