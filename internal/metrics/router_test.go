package metrics

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// TestNewRouter_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestNewRouter_ServesMetrics(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordProcessed("updated")

	handler := NewRouter(reg, newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "rostersync_records_processed_total") {
		t.Error("response should contain rostersync_records_processed_total metric")
	}
}

// TestNewRouter_Health は/healthが200を返すことを検証する。
func TestNewRouter_Health(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRouter(prometheus.NewRegistry(), newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

// TestNewRouter_UnknownPath は未定義パスが404になることを検証する。
func TestNewRouter_UnknownPath(t *testing.T) {
	var buf bytes.Buffer
	handler := NewRouter(prometheus.NewRegistry(), newTestLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "/tracker", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
