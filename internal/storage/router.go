package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
)

// Router dispatches a locator to the transport that can read it:
// http(s) URLs to the HTTP fetcher, s3:// and r2:// to the configured object
// store, anything else to the local filesystem.
type Router struct {
	http    *HTTPFetcher
	objects ObjectStorage
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRouter creates a router. objects may be nil when no bucket is
// configured; object-store locators then fail with ErrObjectStoreNotConfig.
func NewRouter(httpFetcher *HTTPFetcher, objects ObjectStorage, logger *slog.Logger, metrics *observability.Metrics) *Router {
	if httpFetcher == nil {
		httpFetcher = NewHTTPFetcher(nil)
	}
	return &Router{
		http:    httpFetcher,
		objects: objects,
		logger:  observability.Component(logger, "storage"),
		metrics: metrics,
	}
}

// FetchToFile implements Fetcher.
func (r *Router) FetchToFile(ctx context.Context, raw, localPath string) error {
	info := locator.Introspect(raw)
	start := time.Now()
	r.logger.Info("download started", "locator", raw, "dest", localPath)

	var err error
	switch {
	case info.IsHTTP():
		err = r.http.FetchToFile(ctx, raw, localPath)
	case info.IsObjectStore():
		if r.objects == nil {
			err = fmt.Errorf("%w: %s", ErrObjectStoreNotConfig, raw)
		} else {
			err = r.objects.Download(ctx, info.ObjectKey(), localPath)
		}
	case info.IsRemote:
		err = fmt.Errorf("%w: %s", ErrUnsupportedLocator, raw)
	default:
		if err = ctx.Err(); err == nil {
			err = copyFile(raw, localPath)
		}
	}

	r.metrics.ObserveDownload(err)
	if err != nil {
		r.logger.Warn("download failed", "locator", raw, "error", err)
		return err
	}
	r.logger.Info("download finished", "locator", raw, "dest", localPath, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
