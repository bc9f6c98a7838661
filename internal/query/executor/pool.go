// Package executor runs compiled queries against DuckDB: one pinned
// connection per dataset locator, embedded-database attachment, local
// materialization of remote files, and paged or streamed execution.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/compiler"
	_ "github.com/marcboeker/go-duckdb"
	"golang.org/x/sync/singleflight"
)

var errPoolClosed = errors.New("connection pool is closed")

// Memory settings used when the configured ones are rejected.
const (
	fallbackMemoryLimit = "256MB"
	fallbackMaxMemory   = "320MB"
)

// PoolConfig holds the session settings applied to every connection.
type PoolConfig struct {
	MemoryLimit   string
	MaxMemory     string
	TempDirectory string
	Threads       int

	// EnableHTTPFS tries to load the httpfs extension on each connection.
	EnableHTTPFS  bool
	HomeDirectory string
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MemoryLimit:   "512MB",
		MaxMemory:     "640MB",
		TempDirectory: "/tmp/duckdb_temp",
		Threads:       2,
	}
}

// Session is a pooled DuckDB connection bound to one locator. It is returned
// locked by Checkout; statements on it are serialized.
type Session struct {
	locator string
	db      *sql.DB
	conn    *sql.Conn

	// HTTPFS reports whether the httpfs extension loaded on this connection.
	HTTPFS bool

	mu       sync.Mutex
	attached map[string]string // local file path -> view name

	// guarded by Pool.mu
	refCount   int
	lastUsed   time.Time
	createTime time.Time
}

// Conn returns the underlying pinned connection.
func (s *Session) Conn() *sql.Conn {
	return s.conn
}

// Locator returns the locator this session serves.
func (s *Session) Locator() string {
	return s.locator
}

func (s *Session) close() error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

// Pool keeps one session per locator for the life of the process.
// Concurrent first use of a locator shares one open, which runs outside the
// pool lock so other locators are not held up. Statement execution is
// serialized per session.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*Session
	config   PoolConfig
	closed   bool

	opening singleflight.Group
	// dial opens a configured session; tests replace it.
	dial func(ctx context.Context, locator string) (*Session, error)

	installOnce sync.Once
	installErr  error

	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPool creates an empty pool.
func NewPool(config PoolConfig, logger *slog.Logger, metrics *observability.Metrics) *Pool {
	if config.Threads <= 0 {
		config.Threads = DefaultPoolConfig().Threads
	}
	p := &Pool{
		sessions: make(map[string]*Session),
		config:   config,
		logger:   observability.Component(logger, "pool"),
		metrics:  metrics,
	}
	p.dial = p.open
	return p
}

// Checkout returns the session for locator, creating it on first use. The
// session is locked; callers must hand it back with Release.
func (p *Pool) Checkout(ctx context.Context, locator string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	s, ok := p.sessions[locator]
	p.mu.Unlock()

	if !ok {
		v, err, _ := p.opening.Do(locator, func() (interface{}, error) {
			return p.create(ctx, locator)
		})
		if err != nil {
			return nil, err
		}
		s = v.(*Session)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errPoolClosed
	}
	s.refCount++
	s.lastUsed = time.Now()
	p.mu.Unlock()

	s.mu.Lock()
	return s, nil
}

// create opens the session for locator and publishes it, unless another
// caller already has.
func (p *Pool) create(ctx context.Context, locator string) (*Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[locator]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.dial(ctx, locator)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		s.close()
		return nil, errPoolClosed
	}
	p.sessions[locator] = s
	p.metrics.SetPoolConnections(len(p.sessions))
	return s, nil
}

// Release unlocks a session obtained from Checkout.
func (p *Pool) Release(s *Session) {
	if s == nil {
		return
	}
	s.mu.Unlock()

	p.mu.Lock()
	if s.refCount > 0 {
		s.refCount--
	}
	p.mu.Unlock()
}

// OpenEphemeral opens a configured session outside the pool. The caller owns
// it and must Close it.
func (p *Pool) OpenEphemeral(ctx context.Context) (*Session, error) {
	return p.open(ctx, "")
}

// Close closes an ephemeral session.
func (s *Session) Close() error {
	return s.close()
}

func (p *Pool) open(ctx context.Context, locator string) (*Session, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	now := time.Now()
	s := &Session{
		locator:    locator,
		db:         db,
		conn:       conn,
		attached:   make(map[string]string),
		createTime: now,
		lastUsed:   now,
	}

	if err := p.configure(ctx, conn); err != nil {
		s.close()
		return nil, err
	}
	if p.config.EnableHTTPFS {
		s.HTTPFS = p.loadHTTPFS(ctx, conn)
	}
	return s, nil
}

// configure applies the session settings. If the configured memory settings
// are rejected the conservative fallbacks are applied instead.
func (p *Pool) configure(ctx context.Context, conn *sql.Conn) error {
	err := applySettings(ctx, conn, p.config.MemoryLimit, p.config.MaxMemory, p.config)
	if err == nil {
		return nil
	}
	p.logger.Warn("session settings rejected, using fallback memory limits",
		"memory_limit", p.config.MemoryLimit, "max_memory", p.config.MaxMemory, "error", err)
	if err := applySettings(ctx, conn, fallbackMemoryLimit, fallbackMaxMemory, p.config); err != nil {
		return fmt.Errorf("failed to configure duckdb session: %w", err)
	}
	return nil
}

// applySettings sets max_memory before memory_limit: DuckDB treats them as
// the same knob, so memory_limit is the one that sticks.
func applySettings(ctx context.Context, conn *sql.Conn, memoryLimit, maxMemory string, cfg PoolConfig) error {
	stmts := []string{
		"SET max_memory = " + compiler.QuoteLiteral(maxMemory),
		"SET memory_limit = " + compiler.QuoteLiteral(memoryLimit),
		fmt.Sprintf("SET threads = %d", cfg.Threads),
		"SET enable_progress_bar = false",
		"SET enable_object_cache = true",
		"SET preserve_insertion_order = false",
	}
	if cfg.TempDirectory != "" {
		stmts = append(stmts, "SET temp_directory = "+compiler.QuoteLiteral(cfg.TempDirectory))
	}
	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

// loadHTTPFS enables remote reads on conn. INSTALL runs once per pool;
// failures leave the connection usable for local files only.
func (p *Pool) loadHTTPFS(ctx context.Context, conn *sql.Conn) bool {
	if p.config.HomeDirectory != "" {
		if _, err := conn.ExecContext(ctx, "SET home_directory = "+compiler.QuoteLiteral(p.config.HomeDirectory)); err != nil {
			p.logger.Info("httpfs unavailable", "step", "home_directory", "error", err)
			return false
		}
	}
	p.installOnce.Do(func() {
		_, p.installErr = conn.ExecContext(ctx, "INSTALL httpfs")
	})
	if p.installErr != nil {
		p.logger.Info("httpfs unavailable", "step", "install", "error", p.installErr)
		return false
	}
	if _, err := conn.ExecContext(ctx, "LOAD httpfs"); err != nil {
		p.logger.Info("httpfs unavailable", "step", "load", "error", err)
		return false
	}
	return true
}

// PoolStats contains pool statistics.
type PoolStats struct {
	TotalConnections  int
	ActiveConnections int
	HTTPFSConnections int
	OldestConnection  time.Duration
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{TotalConnections: len(p.sessions)}
	now := time.Now()
	for _, s := range p.sessions {
		if s.refCount > 0 {
			stats.ActiveConnections++
		}
		if s.HTTPFS {
			stats.HTTPFSConnections++
		}
		if age := now.Sub(s.createTime); age > stats.OldestConnection {
			stats.OldestConnection = age
		}
	}
	return stats
}

// HasConnection reports whether a session exists for locator.
func (p *Pool) HasConnection(locator string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[locator]
	return ok
}

// Close closes every session. Sessions still checked out are closed as well;
// their holders see errors on the next statement.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for loc, s := range p.sessions {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", loc, err))
		}
		delete(p.sessions, loc)
	}
	p.metrics.SetPoolConnections(0)
	return errors.Join(errs...)
}
