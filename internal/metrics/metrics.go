// Package metrics exposes gacha and HTTP counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/fanpoints/pkg/gacha"
	"github.com/MarkoPoloResearchLab/fanpoints/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fanpoints"

// Metrics owns a private registry so tests and multiple servers never collide.
type Metrics struct {
	registry     *prometheus.Registry
	earns        *prometheus.CounterVec
	draws        *prometheus.CounterVec
	prizes       *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	limiterSize  prometheus.Gauge
}

// New registers every collector.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		earns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "points",
				Name:      "earn_total",
				Help:      "Earn requests by reason, scope and outcome.",
			},
			[]string{"reason", "scope", "outcome"},
		),
		draws: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gacha",
				Name:      "draw_total",
				Help:      "Draw requests by pool, scope and outcome.",
			},
			[]string{"pool", "scope", "outcome"},
		),
		prizes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gacha",
				Name:      "prize_total",
				Help:      "Awarded prizes by pool and rarity.",
			},
			[]string{"pool", "rarity"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
		limiterSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ratelimit",
				Name:      "tracked_keys",
				Help:      "Keys held by the in-process rate limiter.",
			},
		),
	}
	metrics.registry.MustRegister(
		metrics.earns,
		metrics.draws,
		metrics.prizes,
		metrics.httpRequests,
		metrics.httpDuration,
		metrics.limiterSize,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return metrics
}

// EarnObserved implements gacha.Observer.
func (metrics *Metrics) EarnObserved(reason ledger.Reason, scopeKind string, outcome string) {
	label := reason.String()
	if label == "" {
		label = "unknown"
	}
	metrics.earns.WithLabelValues(label, scopeKind, outcome).Inc()
}

// DrawObserved implements gacha.Observer.
func (metrics *Metrics) DrawObserved(pool string, scopeKind string, outcome string, rarity string) {
	if pool == "" {
		pool = "default"
	}
	metrics.draws.WithLabelValues(pool, scopeKind, outcome).Inc()
	if rarity != "" && (outcome == gacha.OutcomeSuccess || outcome == gacha.OutcomeReplayed) {
		metrics.prizes.WithLabelValues(pool, rarity).Inc()
	}
}

// SetLimiterSize records the number of buckets after a cleanup pass.
func (metrics *Metrics) SetLimiterSize(size int) {
	metrics.limiterSize.Set(float64(size))
}

// Handler returns an HTTP handler exposing the registered metrics.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// GinMiddleware counts requests by route template rather than raw path so
// circle ids never become label values.
func (metrics *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		path := ctx.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.httpRequests.WithLabelValues(ctx.Request.Method, path, strconv.Itoa(ctx.Writer.Status())).Inc()
		metrics.httpDuration.WithLabelValues(ctx.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
