// Package metrics provides Prometheus instrumentation for the investment engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RiskEnables counts accepted risky-investment-mode enables.
	RiskEnables = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendloop_risk_enables_total",
		Help: "Risky investment mode enables accepted",
	})

	// RiskRejections counts rejected enables, partitioned by reason.
	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendloop_risk_enable_rejections_total",
		Help: "Risky investment mode enables rejected",
	}, []string{"reason"})

	// Fallouts counts executed fallout settlements.
	Fallouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendloop_fallouts_total",
		Help: "Fallout loss-sharing settlements executed",
	})

	// AgentPolls counts monitoring agent poll cycles.
	AgentPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lendloop_agent_polls_total",
		Help: "Monitoring agent poll cycles",
	})

	// Withdrawals counts withdrawal attempts by outcome.
	Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendloop_withdrawals_total",
		Help: "Position withdrawal attempts",
	}, []string{"outcome"})

	// MarketAlerts counts ingested market alerts by severity.
	MarketAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendloop_market_alerts_total",
		Help: "Market alerts ingested",
	}, []string{"severity"})

	// TierShifts counts scheduler tier transitions.
	TierShifts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendloop_tier_shifts_total",
		Help: "Adaptive scheduler tier transitions",
	}, []string{"from", "to"})

	// PollIntervalMinutes tracks the current monitoring interval.
	PollIntervalMinutes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendloop_poll_interval_minutes",
		Help: "Current monitoring poll interval in minutes",
	})

	// AgentsActive tracks the number of active monitoring agents.
	AgentsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendloop_agents_active",
		Help: "Number of active monitoring agents",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lendloop_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lendloop_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lendloop_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
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
