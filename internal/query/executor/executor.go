package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/locator"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/datapage/certsearch/internal/query/planner"
)

// DefaultBatchSize is the number of rows fetched per batch.
const DefaultBatchSize = 1000

// PlanFunc compiles the query once the relation for the locator is known.
type PlanFunc func(relation string) (*compiler.Plan, error)

// Sink receives streamed rows. processed is the running row count including
// rows. Returning an error aborts the stream.
type Sink func(rows []Row, processed int64) error

// Pagination describes one page of a result.
type Pagination struct {
	CurrentPage  int   `json:"current_page"`
	TotalPages   int   `json:"total_pages"`
	TotalCount   int64 `json:"total_count"`
	ItemsPerPage int   `json:"items_per_page"`
	HasNext      bool  `json:"has_next"`
	HasPrev      bool  `json:"has_prev"`
}

// NewPagination computes page metadata. A limit of 0 means a single page
// holding every row.
func NewPagination(total int64, page, limit int) Pagination {
	if page < 1 {
		page = 1
	}
	p := Pagination{CurrentPage: page, TotalCount: total}
	if limit > 0 {
		p.TotalPages = int((total + int64(limit) - 1) / int64(limit))
		p.ItemsPerPage = limit
	} else {
		p.TotalPages = 1
		p.ItemsPerPage = int(total)
	}
	p.HasNext = page < p.TotalPages
	p.HasPrev = page > 1
	return p
}

// Stats contains execution metrics.
type Stats struct {
	ProcessedRecords int64   `json:"processed_records"`
	ProcessingTimeMs int64   `json:"processing_time_ms"`
	FileSizeMB       float64 `json:"file_size_mb"`
}

// PageResult holds one collected page.
type PageResult struct {
	Rows       []Row          `json:"data"`
	Columns    []string       `json:"columns"`
	Pagination Pagination     `json:"pagination"`
	Stats      Stats          `json:"stats"`
	Debug      compiler.Debug `json:"debug"`
}

// StreamResult summarizes a streamed query.
type StreamResult struct {
	TotalCount int64
	Columns    []string
	Stats      Stats
}

// Config holds executor settings.
type Config struct {
	// BatchSize is the streaming chunk size used when the caller passes 0.
	BatchSize int
}

// Executor runs compiled plans on pooled DuckDB sessions.
type Executor struct {
	pool         *Pool
	materializer *Materializer
	batchSize    int
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// New creates an executor.
func New(pool *Pool, materializer *Materializer, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Executor{
		pool:         pool,
		materializer: materializer,
		batchSize:    cfg.BatchSize,
		logger:       observability.Component(logger, "executor"),
		metrics:      metrics,
	}
}

// Pool returns the session pool.
func (e *Executor) Pool() *Pool {
	return e.pool
}

// Materializer returns the remote file cache.
func (e *Executor) Materializer() *Materializer {
	return e.materializer
}

// Collect runs the plan for loc and materializes one page. The window
// total is stripped from the rows into the pagination metadata.
func (e *Executor) Collect(ctx context.Context, loc string, build PlanFunc, page, limit int) (result *PageResult, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch("collect", time.Since(start), err) }()

	info := locator.Introspect(loc)
	s, err := e.pool.Checkout(ctx, loc)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open connection", err)
	}
	defer e.pool.Release(s)

	plan, err := e.prepare(ctx, s, info, build)
	if err != nil {
		return nil, err
	}

	query, params := plan.SQL()
	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	totalIdx := -1
	if plan.WithTotal {
		totalIdx = lastIndexOf(cols, compiler.TotalCountColumn)
	}

	result = &PageResult{Columns: dropIndex(cols, totalIdx), Rows: []Row{}, Debug: plan.Debug}
	var total int64
	haveTotal := false

	sc := newScanner(cols, totalIdx)
	for rows.Next() {
		row, extra, err := sc.scan(rows)
		if err != nil {
			return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
		}
		if !haveTotal && totalIdx >= 0 {
			if n, ok := extra.Int64(); ok {
				total, haveTotal = n, true
			} else if f, ok := extra.Float64(); ok {
				total, haveTotal = int64(f), true
			}
		}
		result.Rows = append(result.Rows, row)
		if limit > 0 && len(result.Rows) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}

	if !haveTotal {
		total = int64(len(result.Rows))
		if totalIdx >= 0 {
			total = 0
		}
	}
	result.Pagination = NewPagination(total, page, limit)
	result.Stats = Stats{
		ProcessedRecords: int64(len(result.Rows)),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		FileSizeMB:       info.EstimatedSizeMB,
	}
	return result, nil
}

// Stream runs the plan for loc and hands every matching row to sink in
// chunks of chunkSize. Only one chunk is held in memory at a time. The
// locator's session stays locked until the stream ends.
func (e *Executor) Stream(ctx context.Context, loc string, build PlanFunc, chunkSize int, sink Sink) (result *StreamResult, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch("stream", time.Since(start), err) }()

	if chunkSize <= 0 {
		chunkSize = e.batchSize
	}
	info := locator.Introspect(loc)
	s, err := e.pool.Checkout(ctx, loc)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open connection", err)
	}
	defer e.pool.Release(s)

	plan, err := e.prepare(ctx, s, info, build)
	if err != nil {
		return nil, err
	}

	query, params := plan.SQL()
	rows, err := s.conn.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	totalIdx := lastIndexOf(cols, compiler.TotalCountColumn)
	result = &StreamResult{Columns: dropIndex(cols, totalIdx)}

	sc := newScanner(cols, totalIdx)
	chunk := make([]Row, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		result.TotalCount += int64(len(chunk))
		e.metrics.AddStreamedRows(len(chunk))
		if err := sink(chunk, result.TotalCount); err != nil {
			return err
		}
		chunk = make([]Row, 0, chunkSize)
		return nil
	}

	for rows.Next() {
		row, _, err := sc.scan(rows)
		if err != nil {
			return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
		}
		chunk = append(chunk, row)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	result.Stats = Stats{
		ProcessedRecords: result.TotalCount,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		FileSizeMB:       info.EstimatedSizeMB,
	}
	e.logger.Info("stream finished", "locator", loc, "rows", result.TotalCount, "duration_ms", result.Stats.ProcessingTimeMs)
	return result, nil
}

// Distinct returns up to limit non-null distinct values of column.
func (e *Executor) Distinct(ctx context.Context, loc, column string, limit int) ([]Value, error) {
	info := locator.Introspect(loc)
	if !info.IsTabular() {
		return nil, apperrors.NewSourceError(apperrors.CodeUnsupportedLocator,
			fmt.Sprintf("distinct values are not supported for %s", info.FileName))
	}
	s, err := e.pool.Checkout(ctx, loc)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to open connection", err)
	}
	defer e.pool.Release(s)

	rel, err := e.relation(ctx, s, info)
	if err != nil {
		return nil, err
	}
	col := planner.QuoteIdent(column)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL LIMIT %d", col, rel, col, limit)

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	defer rows.Close()

	values := []Value{}
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
		}
		values = append(values, FromDriver(v))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	return values, nil
}

// Introspect returns the column names of loc. It runs on a fresh session
// outside the pool, so it never waits on a locator's in-flight query.
func (e *Executor) Introspect(ctx context.Context, loc string) ([]string, error) {
	info := locator.Introspect(loc)
	s, err := e.pool.OpenEphemeral(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	rel, err := e.relation(ctx, s, info)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, "SELECT * FROM "+rel+" LIMIT 1")
	if err != nil {
		return nil, apperrors.ClassifyExecution(err, info.EstimatedSizeMB)
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return dropIndex(cols, lastIndexOf(cols, compiler.RowOrdinalColumn)), nil
}

func (e *Executor) prepare(ctx context.Context, s *Session, info locator.Info, build PlanFunc) (*compiler.Plan, error) {
	rel, err := e.relation(ctx, s, info)
	if err != nil {
		return nil, err
	}
	return build(rel)
}

// relation returns the FROM target for info on session s. Embedded databases
// are attached and exposed as a view; remote files the session cannot read
// directly are materialized first.
func (e *Executor) relation(ctx context.Context, s *Session, info locator.Info) (string, error) {
	tabular := info.TabularPath()
	if tabular == "" {
		return "", apperrors.NewSourceError(apperrors.CodeUnsupportedLocator,
			fmt.Sprintf("%s is not a queryable file", info.Raw))
	}
	target := locator.Introspect(tabular)

	path := tabular
	if target.IsRemote && (target.IsEmbeddedDatabase || target.IsObjectStore() || !s.HTTPFS) {
		if e.materializer == nil {
			return "", apperrors.NewSourceError(apperrors.CodeRemoteUnavailable,
				fmt.Sprintf("%s cannot be read remotely", info.Raw))
		}
		local, err := e.materializer.Ensure(ctx, tabular)
		if err != nil {
			return "", err
		}
		path = local
	}

	if target.IsEmbeddedDatabase {
		return s.EnsureAttached(ctx, path, "")
	}
	return compiler.ParquetRelation(path), nil
}

// scanner converts driver rows into Rows, setting aside one column.
type scanner struct {
	cols   []string
	skip   int
	values []interface{}
	ptrs   []interface{}
}

func newScanner(cols []string, skip int) *scanner {
	sc := &scanner{
		cols:   cols,
		skip:   skip,
		values: make([]interface{}, len(cols)),
		ptrs:   make([]interface{}, len(cols)),
	}
	for i := range sc.values {
		sc.ptrs[i] = &sc.values[i]
	}
	return sc
}

func (sc *scanner) scan(rows *sql.Rows) (Row, Value, error) {
	for i := range sc.values {
		sc.values[i] = nil
	}
	if err := rows.Scan(sc.ptrs...); err != nil {
		return nil, Value{}, err
	}

	n := len(sc.cols)
	if sc.skip >= 0 {
		n--
	}
	row := make(Row, 0, n)
	var extra Value
	for i, name := range sc.cols {
		v := FromDriver(sc.values[i])
		if i == sc.skip {
			extra = v
			continue
		}
		row = append(row, Field{Name: name, Value: v})
	}
	return row, extra, nil
}

// lastIndexOf finds want from the end. Injected columns always come after
// the dataset's own, so a dataset column of the same name is left alone.
func lastIndexOf(items []string, want string) int {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i] == want {
			return i
		}
	}
	return -1
}

func dropIndex(items []string, idx int) []string {
	if idx < 0 {
		return items
	}
	out := make([]string, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}
