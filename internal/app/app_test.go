package app

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapage/certsearch/internal/config"
	"github.com/datapage/certsearch/internal/query/compiler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`COPY (SELECT * FROM (VALUES ('Acme', 'Widget', '20240101'), ('Beta', 'Gizmo', '20230101'))
		AS t(company_name, product_name, cert_date)) TO ` + compiler.QuoteLiteral(filepath.Join(dir, "certs.parquet")) + ` (FORMAT PARQUET)`)
	require.NoError(t, err)

	settings := filepath.Join(dir, "field_settings.json")
	require.NoError(t, os.WriteFile(settings, []byte(`{
	  "dataA": {"safetykorea": {
	    "category_info": {"data_file": "certs.parquet"},
	    "search_fields": [{"field": "company_name", "name": "업체명"}]
	  }}
	}`), 0644))

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Cache.DuckDBCacheDir = filepath.Join(dir, "duckdb_cache")
	cfg.Catalog.FieldSettingsPath = settings
	cfg.Catalog.BaseDir = dir
	cfg.HTTP.RateLimitRPS = 0
	return cfg
}

func TestNew_ServesSearch(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	h := a.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search/dataA/safetykorea",
		strings.NewReader(`{"keyword": "acme", "search_field": "company_name"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_count":1`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "certsearch_http_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestNew_WarmResolvesCatalogSchemas(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Shutdown(context.Background()) })

	a.warm(context.Background())
	assert.EqualValues(t, 1, a.Engine().Stats().Schema.Introspections)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.FieldSettingsPath = ""
	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Storage.Type = "ftp"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Catalog.FieldSettingsPath = filepath.Join(t.TempDir(), "missing.json")
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestShutdown_RefusesRequests(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
