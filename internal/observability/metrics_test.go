package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveSearch("search", 20*time.Millisecond, nil)
	m.ObserveSearch("search", time.Millisecond, errors.New("boom"))
	m.ObserveIntrospection(true, nil)
	m.SchemaCacheHit("filename")
	m.ObserveDownload(nil)
	m.AddStreamedRows(1500)
	m.SetPoolConnections(3)

	if got := testutil.ToFloat64(m.Searches.WithLabelValues("search", "ok")); got != 1 {
		t.Errorf("ok searches = %v", got)
	}
	if got := testutil.ToFloat64(m.Searches.WithLabelValues("search", "error")); got != 1 {
		t.Errorf("failed searches = %v", got)
	}
	if got := testutil.ToFloat64(m.Introspections.WithLabelValues("true", "ok")); got != 1 {
		t.Errorf("introspections = %v", got)
	}
	if got := testutil.ToFloat64(m.RowsStreamed); got != 1500 {
		t.Errorf("rows streamed = %v", got)
	}
	if got := testutil.ToFloat64(m.PoolConnections); got != 3 {
		t.Errorf("pool connections = %v", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSearch("search", time.Second, nil)
	m.ObserveDownload(errors.New("x"))
	m.SetPoolConnections(1)
	m.PreviewLookup(true)
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveHTTP("/api/categories", "200")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "certsearch_http_requests_total") {
		t.Errorf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewLogger(&buf, "warn"), "schema")
	logger.Info("hidden")
	logger.Warn("configured fields missing", "missing", []string{"x"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["component"] != "schema" || rec["level"] != "WARN" {
		t.Errorf("record = %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
}
