// Package metrics provides Prometheus instrumentation for the ledger service.
package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlement attempts by side and outcome
	// (settled, rejected, failed).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_settlements_total",
		Help: "Total settlement attempts",
	}, []string{"side", "outcome"})

	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rwa_settlement_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// SettlementRejections counts failed settlements by error kind.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_settlement_rejections_total",
		Help: "Settlements rejected, by error kind",
	}, []string{"kind"})

	// SettlementVolume tracks cumulative settled quantity per asset.
	SettlementVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_settlement_volume_total",
		Help: "Cumulative settled volume in shares",
	}, []string{"asset_id", "side"})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rwa_event_publish_failures_total",
		Help: "Settlement notifications that could not be published",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rwa_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	KYCSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_kyc_submissions_total",
		Help: "KYC documents accepted, by document type",
	}, []string{"document_type"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rwa_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rwa_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := RoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RoutePattern returns the matched chi route ("/api/v1/assets/{assetID}")
// so IDs do not explode label cardinality. Unmatched requests share one label.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(w.ResponseWriter).Hijack()
}
