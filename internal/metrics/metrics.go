// Package metrics provides Prometheus instrumentation for the rotation bot.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts poll loop iterations by outcome (ok, error).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_cycles_total",
		Help: "Poll loop iterations",
	}, []string{"result"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "polyrotate_cycle_duration_seconds",
		Help:    "Poll loop iteration duration in seconds",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// RotationsTotal counts rotations by final state (done, failed, noop, skipped).
	RotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_rotations_total",
		Help: "Position rotations by final state",
	}, []string{"state"})

	// OrdersTotal counts submitted FOK orders by side and result.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_orders_total",
		Help: "Market orders submitted",
	}, []string{"side", "result"})

	// RetriesTotal counts retried ledger calls by operation and error kind.
	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_retries_total",
		Help: "Retried remote calls",
	}, []string{"op", "kind"})

	BalanceCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_balance_cache_lookups_total",
		Help: "Balance cache lookups by result (hit, miss)",
	}, []string{"result"})

	// HeldPosition is 1 while a position above the dust floor is held.
	HeldPosition = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "polyrotate_position_held",
		Help: "1 when a position above the dust threshold is held",
	})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_redemptions_total",
		Help: "Redemption attempts on resolved markets",
	}, []string{"result"})

	MarketsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "polyrotate_markets_synced_total",
		Help: "Markets upserted into the metadata store",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "polyrotate_http_requests_total",
		Help: "Health server requests",
	}, []string{"method", "path", "status"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts for the health server.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
	})
}

// ObserveSince records the elapsed time of a cycle.
func ObserveSince(start time.Time) {
	CycleDuration.Observe(time.Since(start).Seconds())
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}
