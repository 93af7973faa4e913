// Package metrics provides Prometheus instrumentation for the roulette engine.
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
	// RoundsTotal counts rounds that reached settlement.
	RoundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roulette_rounds_total",
		Help: "Total number of settled rounds",
	})

	// RoundResults counts settled rounds by winning color.
	RoundResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_round_results_total",
		Help: "Settled rounds by winning color",
	}, []string{"color"})

	// BetsTotal counts accepted bets, partitioned by color.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_bets_total",
		Help: "Total number of accepted bets",
	}, []string{"color"})

	// BetVolume tracks cumulative stake per color.
	BetVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_bet_volume_total",
		Help: "Cumulative amount staked",
	}, []string{"color"})

	// BetRejections counts bets refused by the engine, by reason.
	BetRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_bet_rejections_total",
		Help: "Bets rejected by the engine",
	}, []string{"reason"})

	// SettlementLatency tracks how long settling a round takes.
	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roulette_settlement_latency_seconds",
		Help:    "Round settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HouseNet tracks the running house result (intake minus payouts).
	HouseNet = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_house_net",
		Help: "Cumulative house net since process start",
	})

	// OutcomeSource counts outcomes by the source that produced them.
	OutcomeSource = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_outcome_source_total",
		Help: "Round outcomes by source (primary, fallback)",
	}, []string{"source"})

	// OracleRequests counts pricing oracle calls by result.
	OracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_oracle_requests_total",
		Help: "Pricing oracle requests by result",
	}, []string{"kind", "result"})

	// EngineHalted is 1 while the round loop is halted on a storage failure.
	EngineHalted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_engine_halted",
		Help: "1 when the round engine is halted by an error",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roulette_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsDropped counts engine events dropped because a subscriber was slow.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_events_dropped_total",
		Help: "Engine events dropped for slow subscribers",
	}, []string{"subscriber"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roulette_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roulette_http_request_duration_seconds",
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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern prefers the matched chi pattern so participant ids don't
// explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
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

// Hijack lets the WebSocket upgrader take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
