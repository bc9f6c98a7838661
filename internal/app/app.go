// Package app wires configuration, storage, the search engine and the HTTP
// routes into one runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	httpapi "github.com/datapage/certsearch/internal/api/http"
	"github.com/datapage/certsearch/internal/cache"
	"github.com/datapage/certsearch/internal/catalog"
	"github.com/datapage/certsearch/internal/config"
	"github.com/datapage/certsearch/internal/engine"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/executor"
	"github.com/datapage/certsearch/internal/query/planner"
	"github.com/datapage/certsearch/internal/server"
	"github.com/datapage/certsearch/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	usageWindow   = 24 * time.Hour
	pruneInterval = time.Hour
)

// App is the assembled service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	usage    *observability.SearchStats

	catalog *catalog.Catalog
	engine  *engine.Engine

	lifecycle *server.Lifecycle
	server    *http.Server
}

// New validates cfg and builds every component. Nothing is served until Run.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Catalog.FieldSettingsPath == "" {
		return nil, errors.New("invalid configuration: catalog.field_settings_path is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		logger:   observability.Component(logger, "app"),
		registry: prometheus.NewRegistry(),
		usage:    observability.NewSearchStats(usageWindow),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	cat, err := catalog.Load(cfg.Catalog.FieldSettingsPath, catalog.Options{
		BaseURL: cfg.Catalog.BaseURL,
		BaseDir: cfg.Catalog.BaseDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	a.catalog = cat

	objects, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	previews, err := cache.NewPreviewCache(cfg.Cache.PreviewDir, cfg.Cache.PreviewTTL, cfg.Cache.PreviewMaxBytes, logger, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to open preview cache: %w", err)
	}

	casePolicy := planner.DefaultCasePolicy()
	if cfg.Catalog.CaseSensitivityPath != "" {
		casePolicy = planner.LoadCasePolicy(cfg.Catalog.CaseSensitivityPath, logger)
	}

	a.engine = engine.New(engine.Config{
		Pool: executor.PoolConfig{
			MemoryLimit:   cfg.DuckDB.MemoryLimit,
			MaxMemory:     cfg.DuckDB.MaxMemory,
			TempDirectory: cfg.DuckDB.TempDirectory,
			Threads:       cfg.DuckDB.Threads,
			EnableHTTPFS:  cfg.DuckDB.EnableHTTPFS,
			HomeDirectory: cfg.DuckDB.HomeDirectory,
		},
		CacheDir:         cfg.Cache.DuckDBCacheDir,
		FetchConcurrency: cfg.Cache.PrefetchConcurrency,
		BatchSize:        cfg.DuckDB.FetchBatchSize,
		SchemaCacheSize:  cfg.Cache.SchemaCacheSize,
		SchemaCacheTTL:   cfg.Cache.SchemaCacheTTL,
		CasePolicy:       casePolicy,
		Fetcher:          storage.NewRouter(storage.NewHTTPFetcher(nil), objects, logger, a.metrics),
		Previews:         previews,
		PreviewRows:      cfg.Cache.PreviewRows,
	}, logger, a.metrics)

	a.lifecycle = server.New(server.Options{Logger: logger})
	a.lifecycle.OnClose("engine", a.engine)

	handler := httpapi.NewHandler(a.engine, a.catalog, a.usage, observability.Handler(a.registry), logger)
	limiter := httpapi.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, a.metrics)
	chain := httpapi.ChainMiddleware(
		httpapi.RequestIDMiddleware,
		httpapi.RecoveryMiddleware(logger),
		a.lifecycle.Middleware,
		limiter.Middleware,
		httpapi.MetricsMiddleware(a.metrics, logger),
	)
	a.server = &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      chain(handler.Routes()),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	a.logger.Info("initialized",
		"datasets", cat.Len(),
		"storage", cfg.Storage.Type,
		"memory_limit", cfg.DuckDB.MemoryLimit,
		"max_memory", cfg.DuckDB.MaxMemory)
	return a, nil
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, storage.S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
	default:
		return nil, nil
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Engine returns the search engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run serves until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	go a.warm(ctx)
	go a.pruneUsage()
	return a.lifecycle.Run(ctx, a.server)
}

// warm downloads remote embedded databases and resolves every catalog
// schema so the first searches skip introspection.
func (a *App) warm(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.lifecycle.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	locs := a.catalog.Locators()
	available, failures := a.engine.Prefetch(ctx, locs)
	for loc, err := range failures {
		a.logger.Warn("prefetch failed", "locator", loc, "error", err)
	}
	if err := a.engine.Warm(ctx, locs); err != nil {
		a.logger.Warn("schema warm-up interrupted", "error", err)
		return
	}
	a.logger.Info("warm-up complete",
		"datasets", len(locs),
		"materialized", available,
		"duration_ms", time.Since(start).Milliseconds())
}

func (a *App) pruneUsage() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.usage.Prune()
		case <-a.lifecycle.Done():
			return
		}
	}
}

// Shutdown stops the service outside of Run.
func (a *App) Shutdown(ctx context.Context) error {
	return a.lifecycle.Shutdown(ctx, "shutdown requested")
}
