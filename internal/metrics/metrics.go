// Package metrics provides Prometheus instrumentation for the lending vault.
package metrics

import (
	"bufio"
	"errors"
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
	// OperationsTotal counts committed vault operations by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_operations_total",
		Help: "Total number of committed vault operations",
	}, []string{"kind"})

	// OperationRejections counts rejected vault operations by kind and
	// error class.
	OperationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_operation_rejections_total",
		Help: "Vault operations rejected, by error class",
	}, []string{"kind", "class"})

	// OperationLatency tracks vault operation latency.
	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safelend_operation_latency_seconds",
		Help:    "Vault operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// OperationVolume tracks cumulative asset units moved per operation kind.
	OperationVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_operation_volume_total",
		Help: "Cumulative asset units moved by vault operations",
	}, []string{"kind"})

	// TotalBorrows is the pool's outstanding borrows in asset units.
	TotalBorrows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safelend_total_borrows",
		Help: "Outstanding pool borrows in asset units",
	})

	// TotalReserves is the protocol's accumulated reserves in asset units.
	TotalReserves = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safelend_total_reserves",
		Help: "Accumulated protocol reserves in asset units",
	})

	// TotalSupply is cash + borrows − reserves in asset units.
	TotalSupply = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safelend_total_supply",
		Help: "Total supplied assets (cash + borrows - reserves)",
	})

	// Utilization is the pool utilization as a fraction in [0, 1].
	Utilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safelend_utilization_ratio",
		Help: "Pool utilization ratio",
	})

	// LiquidationsTotal counts liquidations executed through the agent, by
	// outcome.
	LiquidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_agent_liquidations_total",
		Help: "Liquidations attempted by the agent, by outcome",
	}, []string{"outcome"})

	// AgentProfit accumulates estimated liquidation profit in asset units.
	AgentProfit = promauto.NewCounter(prometheus.CounterOpts{
		Name: "safelend_agent_profit_total",
		Help: "Cumulative liquidation profit (collateral received minus debt covered)",
	})

	// DroppedEvents counts events dropped because a sink buffer was full.
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_dropped_events_total",
		Help: "Events dropped by asynchronous sinks",
	}, []string{"sink"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "safelend_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safelend_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "safelend_http_request_duration_seconds",
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

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
