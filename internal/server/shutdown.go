// Package server runs the HTTP listener and tears the service down in order:
// new requests are refused, in-flight searches and downloads drain, then
// registered resources close in reverse registration order.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datapage/certsearch/internal/observability"
)

// Options configures a Lifecycle.
type Options struct {
	// ShutdownTimeout bounds the whole shutdown. Default 30s.
	ShutdownTimeout time.Duration
	// DrainTimeout bounds the wait for in-flight requests. Default 15s.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Lifecycle coordinates serving and shutdown.
type Lifecycle struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          *slog.Logger

	done     chan struct{}
	once     sync.Once
	err      error
	inFlight atomic.Int64
	draining atomic.Bool

	mu      sync.Mutex
	closers []namedCloser
}

// New creates a Lifecycle.
func New(opts Options) *Lifecycle {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 15 * time.Second
	}
	return &Lifecycle{
		shutdownTimeout: opts.ShutdownTimeout,
		drainTimeout:    opts.DrainTimeout,
		logger:          observability.Component(opts.Logger, "server"),
		done:            make(chan struct{}),
	}
}

// OnClose registers c to be closed during shutdown. Closers run last
// registered first.
func (l *Lifecycle) OnClose(name string, c io.Closer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closers = append(l.closers, namedCloser{name: name, c: c})
}

// Run serves srv until ctx is cancelled or the listener fails, then shuts
// everything down.
func (l *Lifecycle) Run(ctx context.Context, srv *http.Server) error {
	l.OnClose("http", CloserFunc(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), l.drainTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}))

	errCh := make(chan error, 1)
	go func() {
		l.logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			l.Shutdown(context.Background(), "listener failed")
			return fmt.Errorf("server: %w", err)
		}
		return l.Shutdown(context.Background(), "listener closed")
	case <-ctx.Done():
		return l.Shutdown(context.Background(), context.Cause(ctx).Error())
	case <-l.done:
		return l.err
	}
}

// Shutdown refuses new requests, waits for in-flight ones and closes every
// registered resource. Only the first call does work; later calls return
// its result.
func (l *Lifecycle) Shutdown(ctx context.Context, reason string) error {
	l.once.Do(func() {
		start := time.Now()
		l.draining.Store(true)
		close(l.done)
		l.logger.Info("shutting down", "reason", reason, "in_flight", l.inFlight.Load())

		ctx, cancel := context.WithTimeout(ctx, l.shutdownTimeout)
		defer cancel()

		var errs []error
		if err := l.drain(ctx); err != nil {
			errs = append(errs, err)
		}

		l.mu.Lock()
		closers := l.closers
		l.mu.Unlock()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].c.Close(); err != nil {
				l.logger.Warn("close failed", "resource", closers[i].name, "error", err)
				errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
			}
		}

		l.err = errors.Join(errs...)
		l.logger.Info("shutdown complete", "duration_ms", time.Since(start).Milliseconds())
	})
	return l.err
}

func (l *Lifecycle) drain(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for l.inFlight.Load() > 0 {
		select {
		case <-ctx.Done():
			if n := l.inFlight.Load(); n > 0 {
				return fmt.Errorf("server: %d requests still in flight", n)
			}
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// Done is closed when shutdown begins.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Draining reports whether shutdown has begun.
func (l *Lifecycle) Draining() bool {
	return l.draining.Load()
}

// InFlight returns the number of tracked requests.
func (l *Lifecycle) InFlight() int64 {
	return l.inFlight.Load()
}

// Middleware tracks requests and answers 503 once shutdown has begun.
func (l *Lifecycle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.inFlight.Add(1)
		defer l.inFlight.Add(-1)
		if l.draining.Load() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"server is shutting down"}`+"\n")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
