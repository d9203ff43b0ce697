package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/cro3-sub001/internal/version"
)

type ServerMetrics struct {
	reg            *prometheus.Registry
	handler        http.Handler
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	buildInfo      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec

	ratelimitDeniedTotal prometheus.Counter
	profilingActive      prometheus.Gauge

	// archive operation metrics
	opsTotal         *prometheus.CounterVec
	streamedBytes    *prometheus.CounterVec
	upstreamCache    *prometheus.CounterVec
	spoolSpillsTotal prometheus.Counter
	indexMembers     prometheus.Histogram
	extractRowsToHit prometheus.Histogram
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 52428800, 1073741824},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_operations_total",
			Help: "Total archive operations by operation and outcome",
		}, []string{"op", "outcome"}),
		streamedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_streamed_bytes_total",
			Help: "Total bytes streamed to clients by operation",
		}, []string{"op"}),
		upstreamCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archive_upstream_cache_total",
			Help: "Caching server verdicts observed on loopback requests",
		}, []string{"status"}),
		spoolSpillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archive_spool_spills_total",
			Help: "Total decompress spools that spilled to disk",
		}),
		indexMembers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_index_members",
			Help:    "Members per indexed archive",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		}),
		extractRowsToHit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "archive_extract_rows_scanned",
			Help:    "Index rows scanned before the requested member was found",
			Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.buildInfo,
		m.errorsTotal,
		m.ratelimitDeniedTotal,
		m.profilingActive,
		m.opsTotal,
		m.streamedBytes,
		m.upstreamCache,
		m.spoolSpillsTotal,
		m.indexMembers,
		m.extractRowsToHit,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncOp counts one finished archive operation. outcome is "ok" or the
// error kind string.
func (m *ServerMetrics) IncOp(op, outcome string) {
	m.opsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *ServerMetrics) AddStreamedBytes(op string, n int64) {
	if n > 0 {
		m.streamedBytes.WithLabelValues(op).Add(float64(n))
	}
}

// ObserveUpstreamCache records the X-Cache verdict from the caching
// server; empty verdicts count as "none".
func (m *ServerMetrics) ObserveUpstreamCache(status string) {
	if status == "" {
		status = "none"
	}
	m.upstreamCache.WithLabelValues(status).Inc()
}

func (m *ServerMetrics) IncSpoolSpill() {
	m.spoolSpillsTotal.Inc()
}

func (m *ServerMetrics) ObserveIndexMembers(n int) {
	m.indexMembers.Observe(float64(n))
}

func (m *ServerMetrics) ObserveExtractRowsScanned(n int) {
	m.extractRowsToHit.Observe(float64(n))
}
