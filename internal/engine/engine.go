// Package engine is the in-process entry point for dataset search. It ties
// schema resolution, query compilation and execution together and owns the
// caches and connections those steps share.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/datapage/certsearch/internal/cache"
	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/datapage/certsearch/internal/query/executor"
	"github.com/datapage/certsearch/internal/query/planner"
	"github.com/datapage/certsearch/internal/schema"
	"github.com/datapage/certsearch/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultDistinctLimit caps DistinctValues when the caller passes 0.
	DefaultDistinctLimit = 100

	// LargeFileMB is the size above which a local file is reported as large.
	LargeFileMB = 50

	fileInfoSampleSize = 3
	warmConcurrency    = 4
)

// Config configures an Engine.
type Config struct {
	Pool             executor.PoolConfig
	CacheDir         string
	FetchConcurrency int
	BatchSize        int

	SchemaCacheSize int
	SchemaCacheTTL  time.Duration

	// CasePolicy defaults to planner.DefaultCasePolicy.
	CasePolicy *planner.CasePolicy

	// Fetcher downloads remote files. Nil means HTTP(S) only.
	Fetcher storage.Fetcher

	// Previews is optional; without it Preview always queries.
	Previews *cache.PreviewCache
	// PreviewRows defaults to PreviewSize.
	PreviewRows int
}

// DefaultConfig returns a config with default pool and cache settings.
func DefaultConfig() Config {
	return Config{
		Pool:             executor.DefaultPoolConfig(),
		CacheDir:         executor.DefaultCacheDir,
		FetchConcurrency: 4,
		BatchSize:        executor.DefaultBatchSize,
	}
}

// Engine answers search, export and metadata requests over datasets
// addressed by locator.
type Engine struct {
	resolver *schema.Resolver
	compiler *compiler.Compiler
	executor *executor.Executor
	previews *cache.PreviewCache

	previewRows int

	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an engine. Nothing is opened until the first request.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = storage.NewRouter(storage.NewHTTPFetcher(nil), nil, logger, metrics)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = executor.DefaultCacheDir
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = PreviewSize
	}

	pool := executor.NewPool(cfg.Pool, logger, metrics)
	materializer := executor.NewMaterializer(cfg.CacheDir, fetcher, cfg.FetchConcurrency, logger)
	exec := executor.New(pool, materializer, executor.Config{BatchSize: cfg.BatchSize}, logger, metrics)

	return &Engine{
		resolver: schema.NewResolver(exec, schema.Options{
			CacheSize: cfg.SchemaCacheSize,
			CacheTTL:  cfg.SchemaCacheTTL,
			Logger:    logger,
			Metrics:   metrics,
		}),
		compiler: compiler.New(cfg.CasePolicy, logger),
		executor: exec,
		previews: cfg.Previews,
		logger:   observability.Component(logger, "engine"),
		metrics:  metrics,

		previewRows: cfg.PreviewRows,
	}
}

// SearchRequest describes one page of a search.
type SearchRequest struct {
	Locator     string
	Keyword     string
	SearchField string
	Filters     *compiler.Filters

	// Configured fields of the dataset; they shape the projection.
	SearchFields  []string
	DisplayFields []string

	Page  int
	Limit int
}

// StreamRequest describes a full export.
type StreamRequest struct {
	Locator     string
	Keyword     string
	SearchField string
	Filters     *compiler.Filters

	SearchFields   []string
	DisplayFields  []string
	RequiredFields []string

	// ChunkSize defaults to executor.DefaultBatchSize.
	ChunkSize int
}

// Search returns one page of rows matching req.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (*executor.PageResult, error) {
	if req.Locator == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "locator is required")
	}
	if req.Page < 1 {
		req.Page = 1
	}
	cols := e.resolver.Resolve(ctx, req.Locator)

	build := func(rel string) (*compiler.Plan, error) {
		return e.compiler.Compile(compiler.Request{
			Relation:      rel,
			Schema:        cols,
			Keyword:       req.Keyword,
			SearchField:   req.SearchField,
			Filters:       req.Filters,
			SearchFields:  req.SearchFields,
			DisplayFields: req.DisplayFields,
			Page:          req.Page,
			Limit:         req.Limit,
		})
	}
	return e.executor.Collect(ctx, req.Locator, build, req.Page, req.Limit)
}

// StreamAll hands every row matching req to sink in chunks. The locator's
// connection is held for the whole export.
func (e *Engine) StreamAll(ctx context.Context, req StreamRequest, sink executor.Sink) (*executor.StreamResult, error) {
	if req.Locator == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "locator is required")
	}
	if sink == nil {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "sink is required")
	}
	cols := e.resolver.Resolve(ctx, req.Locator)

	build := func(rel string) (*compiler.Plan, error) {
		return e.compiler.Compile(compiler.Request{
			Relation:       rel,
			Schema:         cols,
			Keyword:        req.Keyword,
			SearchField:    req.SearchField,
			Filters:        req.Filters,
			SearchFields:   req.SearchFields,
			DisplayFields:  req.DisplayFields,
			RequiredFields: req.RequiredFields,
			Stream:         true,
		})
	}
	return e.executor.Stream(ctx, req.Locator, build, req.ChunkSize, sink)
}

// DistinctValues returns up to limit distinct non-null values of field,
// sorted ascending.
func (e *Engine) DistinctValues(ctx context.Context, loc, field string, limit int) ([]executor.Value, error) {
	if field == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "field is required")
	}
	if limit <= 0 {
		limit = DefaultDistinctLimit
	}
	values, err := e.executor.Distinct(ctx, loc, field, limit)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(values, func(i, j int) bool { return executor.Compare(values[i], values[j]) < 0 })
	return values, nil
}

// GetAvailableFields returns the column names of loc, or nil when they
// cannot be determined.
func (e *Engine) GetAvailableFields(ctx context.Context, loc string) []string {
	return e.resolver.Resolve(ctx, loc)
}

// ResetCaches drops cached schemas and previews. Open connections and
// downloaded files are kept.
func (e *Engine) ResetCaches() {
	e.resolver.Reset()
	if e.previews != nil {
		e.previews.Clear()
	}
	e.logger.Info("caches reset")
}

// Stats is a snapshot of engine internals.
type Stats struct {
	Schema       schema.Stats       `json:"schema"`
	Pool         executor.PoolStats `json:"pool"`
	Materialized int                `json:"materialized_files"`
	Previews     int                `json:"previews"`
}

// Stats returns a snapshot of cache and pool state.
func (e *Engine) Stats() Stats {
	s := Stats{
		Schema:       e.resolver.Stats(),
		Pool:         e.executor.Pool().Stats(),
		Materialized: e.executor.Materializer().Len(),
	}
	if e.previews != nil {
		s.Previews = e.previews.Len()
	}
	return s
}

// FileInfo summarizes a dataset.
type FileInfo struct {
	TotalRecords int64          `json:"total_records"`
	Fields       []string       `json:"fields"`
	FileSizeMB   float64        `json:"file_size_mb"`
	SampleData   []executor.Row `json:"sample_data"`
	IsLargeFile  bool           `json:"is_large_file"`
	DataSource   string         `json:"data_source"`
	Error        string         `json:"error,omitempty"`
}

// FileInfo reports fields, record count and a few sample rows of loc. A
// failing sample query is reported in Error rather than returned.
func (e *Engine) FileInfo(ctx context.Context, loc string) (*FileInfo, error) {
	info := locator.Introspect(loc)
	if !info.IsTabular() {
		return nil, apperrors.NewSourceError(apperrors.CodeUnsupportedLocator,
			fmt.Sprintf("%s is not a queryable file", info.FileName))
	}

	fi := &FileInfo{
		Fields:      e.resolver.Resolve(ctx, loc),
		FileSizeMB:  math.Round(info.EstimatedSizeMB*100) / 100,
		SampleData:  []executor.Row{},
		IsLargeFile: info.IsRemote || info.EstimatedSizeMB > LargeFileMB,
		DataSource:  "local",
	}
	if info.IsRemote {
		fi.DataSource = "remote"
	}
	if fi.Fields == nil {
		fi.Fields = []string{}
	}

	res, err := e.Search(ctx, SearchRequest{Locator: loc, Limit: fileInfoSampleSize})
	if err != nil {
		e.logger.Warn("file info sample failed", "locator", loc, "error", err)
		fi.Error = err.Error()
		return fi, nil
	}
	fi.TotalRecords = res.Pagination.TotalCount
	fi.SampleData = res.Rows
	return fi, nil
}

// Warm resolves the schemas of locs concurrently so later requests hit the
// cache. Failures only leave the schema unresolved.
func (e *Engine) Warm(ctx context.Context, locs []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, loc := range locs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cols := e.resolver.Resolve(gctx, loc)
			e.logger.Debug("schema warmed", "locator", loc, "columns", len(cols))
			return nil
		})
	}
	return g.Wait()
}

// Prefetch downloads remote embedded database files ahead of first use.
func (e *Engine) Prefetch(ctx context.Context, locs []string) (int, map[string]error) {
	return e.executor.Materializer().Prefetch(ctx, locs)
}

// Close releases every pooled connection.
func (e *Engine) Close() error {
	return e.executor.Pool().Close()
}
