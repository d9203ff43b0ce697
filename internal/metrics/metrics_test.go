package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

// New

func TestNew_ReturnsNonNil(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
}

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()

	// MustRegister in New() would panic if any metric failed to register.
	// Verify the registry is functional by scraping it.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()

	// Non-Vec metrics (gauge, counter) appear immediately
	immediateMetrics := []string{
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"profiling_active",
		"archive_spool_spills_total",
		"archive_index_members",
		"archive_extract_rows_scanned",
	}
	for _, name := range immediateMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}

	// Go/process collectors should be present
	if !strings.Contains(body, "go_goroutines") {
		t.Error("go collector metrics missing")
	}
}

func gatherCounter(t *testing.T, m *ServerMetrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, mt := range f.GetMetric() {
			for k, v := range labels {
				if !hasLabel(mt, k, v) {
					continue metric
				}
			}
			if mt.GetCounter() != nil {
				return mt.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(m *dto.Metric, key, val string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == key && lp.GetValue() == val {
			return true
		}
	}
	return false
}

func TestIncOp(t *testing.T) {
	m := New()
	m.IncOp("extract", "ok")
	m.IncOp("extract", "ok")
	m.IncOp("extract", "not_found")

	if got := gatherCounter(t, m, "archive_operations_total", map[string]string{"op": "extract", "outcome": "ok"}); got != 2 {
		t.Fatalf("ok count = %v, want 2", got)
	}
	if got := gatherCounter(t, m, "archive_operations_total", map[string]string{"op": "extract", "outcome": "not_found"}); got != 1 {
		t.Fatalf("not_found count = %v, want 1", got)
	}
}

func TestAddStreamedBytes_IgnoresNonPositive(t *testing.T) {
	m := New()
	m.AddStreamedBytes("download", 1024)
	m.AddStreamedBytes("download", 0)
	m.AddStreamedBytes("download", -5)

	if got := gatherCounter(t, m, "archive_streamed_bytes_total", map[string]string{"op": "download"}); got != 1024 {
		t.Fatalf("streamed bytes = %v, want 1024", got)
	}
}

func TestObserveUpstreamCache_EmptyMapsToNone(t *testing.T) {
	m := New()
	m.ObserveUpstreamCache("HIT")
	m.ObserveUpstreamCache("")

	if got := gatherCounter(t, m, "archive_upstream_cache_total", map[string]string{"status": "HIT"}); got != 1 {
		t.Fatalf("HIT count = %v, want 1", got)
	}
	if got := gatherCounter(t, m, "archive_upstream_cache_total", map[string]string{"status": "none"}); got != 1 {
		t.Fatalf("none count = %v, want 1", got)
	}
}
