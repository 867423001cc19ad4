package monitor

import (
	"time"

	"github.com/glimte/osip-go/internal/reliability"
	"github.com/glimte/osip-go/messaging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "osip"

// unknownType labels telegrams whose header could not be decoded
const unknownType = "unknown"

// PrometheusCollector implements messaging.MetricsCollector
type PrometheusCollector struct {
	factory promauto.Factory

	telegrams      *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	lockWait       prometheus.Histogram
	replyCache     *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
	breakerChanges *prometheus.CounterVec
}

// NewPrometheusCollector registers the dispatch metrics with reg
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		factory: factory,
		telegrams: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_total",
			Help:      "Telegrams that reached a terminal state, by type, state and error code",
		}, []string{"type", "state", "code"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processing_duration_seconds",
			Help:      "Time from receipt to terminal state",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		}, []string{"type"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the correlation key",
			Buckets:   []float64{.0001, .001, .01, .1, 1, 5},
		}),
		replyCache: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_cache_lookups_total",
			Help:      "Reply cache lookups by result",
		}, []string{"result"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		}, []string{"breaker"}),
		breakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"breaker", "to"}),
	}
}

// RecordTelegram implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordTelegram(telegramType string, state messaging.State, errorCode string, duration time.Duration) {
	if telegramType == "" {
		telegramType = unknownType
	}
	c.telegrams.WithLabelValues(telegramType, state.String(), errorCode).Inc()
	c.duration.WithLabelValues(telegramType).Observe(duration.Seconds())
}

// RecordLockWait implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordLockWait(duration time.Duration) {
	c.lockWait.Observe(duration.Seconds())
}

// RecordReplyCache implements messaging.MetricsCollector
func (c *PrometheusCollector) RecordReplyCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.replyCache.WithLabelValues(result).Inc()
}

// OnStateChange implements reliability.StateChangeListener
func (c *PrometheusCollector) OnStateChange(name string, _, to reliability.State, _ string) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
	c.breakerChanges.WithLabelValues(name, to.String()).Inc()
}

// PoolStatser is implemented by messaging.Pool
type PoolStatser interface {
	Stats() messaging.PoolStats
}

// WatchPool exports queue depth and busy workers of pool, read at scrape time
func (c *PrometheusCollector) WatchPool(name string, pool PoolStatser) {
	labels := prometheus.Labels{"pool": name}

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "pool_queued",
		Help:        "Telegrams waiting in the worker pool lanes",
		ConstLabels: labels,
	}, func() float64 { return float64(pool.Stats().Queued) })

	c.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "pool_busy_workers",
		Help:        "Workers currently processing a telegram",
		ConstLabels: labels,
	}, func() float64 { return float64(pool.Stats().Busy) })

	c.factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "pool_processed_total",
		Help:        "Telegrams processed by the worker pool",
		ConstLabels: labels,
	}, func() float64 { return float64(pool.Stats().Processed) })
}

var (
	_ messaging.MetricsCollector      = (*PrometheusCollector)(nil)
	_ reliability.StateChangeListener = (*PrometheusCollector)(nil)
)
