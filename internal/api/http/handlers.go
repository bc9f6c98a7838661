package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/datapage/certsearch/internal/catalog"
	"github.com/datapage/certsearch/internal/engine"
	apperrors "github.com/datapage/certsearch/internal/errors"
	"github.com/datapage/certsearch/internal/export"
	"github.com/datapage/certsearch/internal/observability"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/datapage/certsearch/internal/query/executor"
)

const (
	defaultSearchField = "product_name"
	defaultPageSize    = 20
	maxPageSize        = 1000
	exportChunkSize    = 1000
	statsTopN          = 20
)

// Engine is the search engine surface the routes use.
type Engine interface {
	Search(ctx context.Context, req engine.SearchRequest) (*executor.PageResult, error)
	StreamAll(ctx context.Context, req engine.StreamRequest, sink executor.Sink) (*executor.StreamResult, error)
	DistinctValues(ctx context.Context, loc, field string, limit int) ([]executor.Value, error)
	GetAvailableFields(ctx context.Context, loc string) []string
	FileInfo(ctx context.Context, loc string) (*engine.FileInfo, error)
	Preview(ctx context.Context, loc string) (*engine.Preview, error)
	ResetCaches()
	Stats() engine.Stats
}

// Catalog resolves datasets.
type Catalog interface {
	Resolve(category, subcategory, resultType string) (*catalog.Dataset, error)
	List() []catalog.Summary
}

// SearchRequest is the body of search and download requests.
type SearchRequest struct {
	Keyword     string            `json:"keyword"`
	SearchField string            `json:"search_field"`
	DateFrom    string            `json:"date_from"`
	DateTo      string            `json:"date_to"`
	Filters     *compiler.Filters `json:"filters"`
	Page        int               `json:"page"`
	Limit       *int              `json:"limit"`
}

// filters merges date_from/date_to into the filter set.
func (r *SearchRequest) filters() *compiler.Filters {
	f := r.Filters
	if r.DateFrom == "" && r.DateTo == "" {
		return f
	}
	if f == nil {
		f = &compiler.Filters{}
	}
	if f.DateRange == nil {
		f.DateRange = &compiler.DateRange{Start: r.DateFrom, End: r.DateTo}
	}
	return f
}

// SearchResponse is the body of a search reply.
type SearchResponse struct {
	Results    []executor.Row      `json:"results"`
	Pagination executor.Pagination `json:"pagination"`
	Summary    SearchSummary       `json:"summary"`
	RequestID  string              `json:"request_id,omitempty"`
}

// SearchSummary carries execution details of a search.
type SearchSummary struct {
	ProcessingMethod string         `json:"processing_method"`
	FileSizeMB       float64        `json:"file_size_mb"`
	Stats            executor.Stats `json:"processing_stats"`
	Debug            compiler.Debug `json:"debug_info"`
}

// Handler serves the API routes.
type Handler struct {
	engine   Engine
	catalog  Catalog
	stats    *observability.SearchStats
	gatherer http.Handler
	logger   *slog.Logger
}

// NewHandler creates the route handler. metrics serves /metrics when non-nil.
func NewHandler(eng Engine, cat Catalog, stats *observability.SearchStats, metrics http.Handler, logger *slog.Logger) *Handler {
	return &Handler{
		engine:   eng,
		catalog:  cat,
		stats:    stats,
		gatherer: metrics,
		logger:   observability.Component(logger, "api"),
	}
}

// Routes registers every route on a new ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", h.gatherer)
	}
	mux.HandleFunc("GET /api/categories", h.categories)
	mux.HandleFunc("POST /api/search/{category}/{subcategory}", h.search)
	mux.HandleFunc("POST /api/search/{category}/{result_type}/{subcategory}", h.search)
	mux.HandleFunc("POST /api/download-search/{category}/{subcategory}", h.download)
	mux.HandleFunc("POST /api/download-search/{category}/{result_type}/{subcategory}", h.download)
	mux.HandleFunc("GET /api/file-info/{category}/{subcategory}", h.fileInfo)
	mux.HandleFunc("GET /api/preview/{category}/{subcategory}", h.preview)
	mux.HandleFunc("GET /api/field-samples/{category}/{subcategory}/{field}", h.fieldSamples)
	mux.HandleFunc("GET /api/fields/{category}/{subcategory}", h.fields)
	mux.HandleFunc("POST /api/clear-cache", h.clearCache)
	mux.HandleFunc("GET /api/stats", h.usageStats)
	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"pool":      h.engine.Stats().Pool,
	})
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": h.catalog.List(),
	})
}

// dataset resolves the dataset named by the path, with result_type taken
// from the path or the query string.
func (h *Handler) dataset(r *http.Request) (*catalog.Dataset, error) {
	resultType := r.PathValue("result_type")
	if resultType == "" {
		resultType = r.URL.Query().Get("result_type")
	}
	return h.catalog.Resolve(r.PathValue("category"), r.PathValue("subcategory"), resultType)
}

func decodeSearch(r *http.Request) (*SearchRequest, error) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest,
			fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SearchField == "" {
		req.SearchField = defaultSearchField
	}
	if req.Page < 1 {
		req.Page = 1
	}
	return &req, nil
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeSearch(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := defaultPageSize
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 0 || limit > maxPageSize {
		writeError(w, r, apperrors.NewValidationError(apperrors.CodeInvalidRequest,
			fmt.Sprintf("limit must be between 0 and %d", maxPageSize)))
		return
	}
	filters := req.filters()
	h.recordUsage(ds, req.SearchField, "search", filters)

	res, err := h.engine.Search(r.Context(), engine.SearchRequest{
		Locator:       ds.Locator,
		Keyword:       req.Keyword,
		SearchField:   req.SearchField,
		Filters:       filters,
		SearchFields:  ds.SearchFields(),
		DisplayFields: ds.DisplayFields(),
		Page:          req.Page,
		Limit:         limit,
	})
	if err != nil {
		h.logger.Warn("search failed", "dataset", datasetKey(ds), "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Results:    res.Rows,
		Pagination: res.Pagination,
		Summary: SearchSummary{
			ProcessingMethod: "duckdb_pagination",
			FileSizeMB:       math.Round(res.Stats.FileSizeMB*100) / 100,
			Stats:            res.Stats,
			Debug:            res.Debug,
		},
		RequestID: GetRequestID(r.Context()),
	})
}

// lazyCSV delays the download headers until the first byte, so failures
// before any row can still be reported as JSON.
type lazyCSV struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (l *lazyCSV) Write(p []byte) (int, error) {
	if !l.started {
		l.started = true
		hdr := l.w.Header()
		hdr.Set("Content-Type", "text/csv; charset=utf-8")
		hdr.Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(l.filename))
		hdr.Set("Trailer", "X-Total-Count")
		l.w.WriteHeader(http.StatusOK)
	}
	return l.w.Write(p)
}

func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := decodeSearch(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filters := req.filters()
	h.recordUsage(ds, req.SearchField, "stream", filters)

	out := &lazyCSV{
		w:        w,
		filename: fmt.Sprintf("datapage_%s_%s.csv", ds.Subcategory, time.Now().Format("20060102_150405")),
	}
	sink := export.NewCSVSink(out, ds.DownloadFields)
	flusher, _ := w.(http.Flusher)

	res, err := h.engine.StreamAll(r.Context(), engine.StreamRequest{
		Locator:        ds.Locator,
		Keyword:        req.Keyword,
		SearchField:    req.SearchField,
		Filters:        filters,
		SearchFields:   ds.SearchFields(),
		DisplayFields:  ds.DisplayFields(),
		RequiredFields: ds.DownloadFields,
		ChunkSize:      exportChunkSize,
	}, func(rows []executor.Row, processed int64) error {
		if err := sink.Write(rows, processed); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	switch {
	case err != nil && !out.started:
		writeError(w, r, err)
	case err != nil:
		// Headers are gone; the truncated body is all the client gets.
		h.logger.Error("download aborted", "dataset", datasetKey(ds), "rows", sink.Rows(), "error", err)
	case res.TotalCount == 0:
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:     "no matching records",
			RequestID: GetRequestID(r.Context()),
		})
	default:
		if err := sink.Close(); err != nil {
			h.logger.Error("download flush failed", "dataset", datasetKey(ds), "error", err)
		}
		w.Header().Set("X-Total-Count", strconv.FormatInt(res.TotalCount, 10))
		h.logger.Info("download finished", "dataset", datasetKey(ds), "rows", res.TotalCount, "duration_ms", res.Stats.ProcessingTimeMs)
	}
}

func (h *Handler) fileInfo(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	fi, err := h.engine.FileInfo(r.Context(), ds.Locator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fi)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.engine.Preview(r.Context(), ds.Locator)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) fieldSamples(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit := engine.DefaultDistinctLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, r, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	field := r.PathValue("field")
	values, err := h.engine.DistinctValues(r.Context(), ds.Locator, field, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"field":   field,
		"samples": values,
		"count":   len(values),
	})
}

func (h *Handler) fields(w http.ResponseWriter, r *http.Request) {
	ds, err := h.dataset(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	available := h.engine.GetAvailableFields(r.Context(), ds.Locator)
	if available == nil {
		available = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available_fields": available,
		"search_fields":    ds.SearchOptions,
		"display_fields":   ds.DisplayOptions,
		"download_fields":  ds.DownloadFields,
	})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetCaches()
	writeJSON(w, http.StatusOK, map[string]string{"message": "caches cleared"})
}

func (h *Handler) usageStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"engine": h.engine.Stats()}
	if h.stats != nil {
		resp["usage"] = h.stats.Snapshot(statsTopN)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recordUsage(ds *catalog.Dataset, field, mode string, filters *compiler.Filters) {
	if h.stats == nil {
		return
	}
	h.stats.RecordSearch(datasetKey(ds), field, mode, filters.Names())
}

func datasetKey(ds *catalog.Dataset) string {
	if ds.ResultType == "" {
		return ds.Category + "/" + ds.Subcategory
	}
	return ds.Category + "/" + ds.ResultType + "/" + ds.Subcategory
}
