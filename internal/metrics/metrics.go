// Package metrics exposes Prometheus instrumentation for the coordination
// service, grounded on the teacher's internal/metrics.Metrics (NewMetrics +
// Register(reg) shape) but rebuilt around this service's own signals:
// cache hit rate, active sessions/connections, tick latency, rate-limit
// rejections, and error counts by kind.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector this service registers. ActiveSessions,
// CacheHitRate and BufferEvictions are registered but nothing in this
// repository updates them, so they always report zero.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	ActiveConnections prometheus.Gauge
	CacheHitRate      prometheus.Gauge
	TickLatency       prometheus.Histogram
	RateLimitRejects  *prometheus.CounterVec
	ErrorsByKind      *prometheus.CounterVec
	MessagesHandled   *prometheus.CounterVec
	BufferEvictions   prometheus.Counter
	OptimisticRetries prometheus.Counter
	RestoredSessions  prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

// New builds the collector set without registering it.
func New() *Metrics {
	return &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turntimer_active_sessions",
			Help: "Number of non-closed sessions currently held in memory.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turntimer_active_connections",
			Help: "Number of live subscriber connections.",
		}),
		CacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "turntimer_cache_hit_rate",
			Help: "Rolling read-through cache hit rate.",
		}),
		TickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "turntimer_tick_latency_seconds",
			Help:    "Time spent processing one tick under the session lock.",
			Buckets: prometheus.DefBuckets,
		}),
		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turntimer_rate_limit_rejects_total",
			Help: "Rejected messages by limiter scope (connection|ip).",
		}, []string{"scope"}),
		ErrorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turntimer_errors_total",
			Help: "Errors returned to clients, by error kind.",
		}, []string{"kind"}),
		MessagesHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turntimer_messages_handled_total",
			Help: "Inbound messages dispatched, by type.",
		}, []string{"type"}),
		BufferEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turntimer_buffer_evictions_total",
			Help: "Subscribers closed for exceeding the outbound buffer cap.",
		}),
		OptimisticRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turntimer_optimistic_retries_total",
			Help: "Store Update() retries due to a watched-key conflict.",
		}),
		RestoredSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turntimer_restored_sessions_total",
			Help: "Sessions rehydrated from the Store at startup.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turntimer_http_request_duration_seconds",
			Help:    "HTTP request latency for non-websocket routes.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ActiveSessions,
		m.ActiveConnections,
		m.CacheHitRate,
		m.TickLatency,
		m.RateLimitRejects,
		m.ErrorsByKind,
		m.MessagesHandled,
		m.BufferEvictions,
		m.OptimisticRetries,
		m.RestoredSessions,
		m.RequestDuration,
	)
}

// Handler returns the Prometheus text-exposition HTTP handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// statusRecorder captures the status code a handler wrote so Middleware can
// label the duration histogram with it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration for every route except wsPath —
// wrapping the ResponseWriter breaks http.Hijacker, which the websocket
// upgrade needs, matching the teacher's "skip metrics wrapping for
// WebSocket" rule in cmd/game-server/main.go.
func (m *Metrics) Middleware(wsPath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == wsPath {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rec.status)).Observe(time.Since(start).Seconds())
	})
}
