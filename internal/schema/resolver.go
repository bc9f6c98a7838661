package schema

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
	"golang.org/x/sync/singleflight"
)

// Introspector reports the engine's column names for a locator. It runs a
// zero-row query on a connection of its own.
type Introspector interface {
	Introspect(ctx context.Context, locator string) ([]string, error)
}

// Options configures a Resolver.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Stats holds resolver counters.
type Stats struct {
	LocatorHits    int64 `json:"locator_hits"`
	FileHits       int64 `json:"filename_hits"`
	AliasHits      int64 `json:"alias_hits"`
	Introspections int64 `json:"introspections"`
	Failures       int64 `json:"failures"`
	CachedLocators int   `json:"cached_locators"`
	CachedFiles    int   `json:"cached_files"`
}

// Resolver returns the ordered column list of a dataset.
type Resolver struct {
	introspector Introspector
	cache        *Cache
	group        singleflight.Group
	logger       *slog.Logger
	metrics      *observability.Metrics

	locatorHits    atomic.Int64
	fileHits       atomic.Int64
	aliasHits      atomic.Int64
	introspections atomic.Int64
	failures       atomic.Int64
}

// NewResolver creates a resolver backed by introspector.
func NewResolver(introspector Introspector, opts Options) *Resolver {
	return &Resolver{
		introspector: introspector,
		cache:        NewCache(opts.CacheSize, opts.CacheTTL),
		logger:       observability.Component(opts.Logger, "schema"),
		metrics:      opts.Metrics,
	}
}

// Resolve returns the columns of loc. It never fails: an empty list means
// the schema could not be determined and callers should select all columns.
func (r *Resolver) Resolve(ctx context.Context, loc string) []string {
	if loc == "" {
		return nil
	}
	if IsVolatile(loc) {
		return r.introspect(ctx, loc, true)
	}

	if cols, ok := r.cache.ByLocator(loc); ok {
		r.locatorHits.Add(1)
		r.metrics.SchemaCacheHit("locator")
		return clone(cols)
	}

	fileName := locator.FileName(loc)
	if cols, ok := r.cache.ByFile(fileName); ok {
		r.fileHits.Add(1)
		r.metrics.SchemaCacheHit("filename")
		r.cache.Put(loc, "", cols)
		return clone(cols)
	}

	if cols := r.tryAlias(loc, fileName); cols != nil {
		return clone(cols)
	}

	v, _, _ := r.group.Do(loc, func() (interface{}, error) {
		if cols, ok := r.cache.ByLocator(loc); ok {
			return cols, nil
		}
		cols := r.introspect(ctx, loc, false)
		r.cache.Put(loc, fileName, cols)
		return cols, nil
	})
	cols, _ := v.([]string)
	return clone(cols)
}

func (r *Resolver) tryAlias(loc, fileName string) []string {
	for _, candidate := range aliasCandidates(loc, fileName) {
		cols, ok := r.cache.ByFile(candidate)
		if !ok {
			continue
		}
		r.aliasHits.Add(1)
		r.metrics.SchemaCacheHit("alias")
		r.logger.Info("schema borrowed from snapshot", "locator", loc, "snapshot", candidate, "columns", len(cols))
		r.cache.Put(loc, fileName, cols)
		return cols
	}
	return nil
}

func (r *Resolver) introspect(ctx context.Context, loc string, volatile bool) []string {
	r.introspections.Add(1)
	start := time.Now()
	cols, err := r.introspector.Introspect(ctx, loc)
	r.metrics.ObserveIntrospection(volatile, err)
	if err != nil {
		r.failures.Add(1)
		r.logger.Warn("schema introspection failed", "locator", loc, "error", err)
		return nil
	}
	r.logger.Debug("schema introspected",
		"locator", loc,
		"columns", len(cols),
		"volatile", volatile,
		"duration_ms", time.Since(start).Milliseconds())
	return cols
}

// Reset clears both caches. Counters are kept.
func (r *Resolver) Reset() {
	r.cache.Purge()
}

// Stats returns a snapshot of the resolver counters.
func (r *Resolver) Stats() Stats {
	byLoc, byFile := r.cache.Len()
	return Stats{
		LocatorHits:    r.locatorHits.Load(),
		FileHits:       r.fileHits.Load(),
		AliasHits:      r.aliasHits.Load(),
		Introspections: r.introspections.Load(),
		Failures:       r.failures.Load(),
		CachedLocators: byLoc,
		CachedFiles:    byFile,
	}
}

func clone(cols []string) []string {
	if cols == nil {
		return nil
	}
	return append([]string(nil), cols...)
}
