// Package metrics exposes the engine and HTTP counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loginguard"

// Metrics holds the collectors registered for one registry
type Metrics struct {
	registry prometheus.Gatherer
	factory  promauto.Factory

	checkDecisions *prometheus.CounterVec
	failedAttempts prometheus.Counter
	lockouts       *prometheus.CounterVec
	ipBans         *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	riskScore      prometheus.Histogram
	sweepDeleted   *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		factory:  factory,
		checkDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_decisions_total",
			Help:      "Login gate decisions by outcome",
		}, []string{"decision"}),
		failedAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_attempts_total",
			Help:      "Failed login attempts recorded",
		}),
		lockouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Account locks applied",
		}, []string{"level"}),
		ipBans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_bans_total",
			Help:      "IP bans created by type",
		}, []string{"type"}),
		storeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Store failures by engine operation",
		}, []string{"operation"}),
		riskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of login risk scores",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		sweepDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_deleted_total",
			Help:      "Rows removed by retention sweeps",
		}, []string{"kind"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "path"}),
	}
}

// PoolStats is the subset of *pgxpool.Stat exported as gauges
type PoolStats interface {
	AcquiredConns() int32
	IdleConns() int32
	TotalConns() int32
	MaxConns() int32
}

// RegisterPool exports connection pool gauges read from stat on every scrape.
func (m *Metrics) RegisterPool(stat func() PoolStats) {
	gauge := func(name, help string, read func(PoolStats) int32) {
		m.factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(stat())) })
	}
	gauge("acquired_conns", "Connections currently checked out", PoolStats.AcquiredConns)
	gauge("idle_conns", "Idle connections in the pool", PoolStats.IdleConns)
	gauge("total_conns", "Open connections in the pool", PoolStats.TotalConns)
	gauge("max_conns", "Configured pool size", PoolStats.MaxConns)
}

func (m *Metrics) ObserveDecision(decision string) {
	m.checkDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncFailedAttempts() {
	m.failedAttempts.Inc()
}

func (m *Metrics) IncLockout(level models.LockLevel) {
	m.lockouts.WithLabelValues(string(level)).Inc()
}

func (m *Metrics) IncIPBan(blacklistType models.BlacklistType) {
	m.ipBans.WithLabelValues(string(blacklistType)).Inc()
}

func (m *Metrics) IncStoreError(operation string) {
	m.storeErrors.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObserveRiskScore(score int) {
	m.riskScore.Observe(float64(score))
}

func (m *Metrics) AddSweepDeleted(kind string, n int64) {
	m.sweepDeleted.WithLabelValues(kind).Add(float64(n))
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePattern(r)
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// routePattern avoids label explosion from path parameters such as IPs.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
