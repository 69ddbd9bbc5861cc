package pricer

import (
	"github.com/maxbolgarin/errm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "pricer"

// mtr holds the process-wide bot metrics. Everything is registered on the
// default registry and served by the /metrics endpoint when it is enabled.
var mtr = struct {
	updatesTotal     prometheus.Counter
	handlerErrors    *prometheus.CounterVec
	handlerDuration  prometheus.Histogram
	broadcastsTotal  prometheus.Counter
	broadcastErrors  prometheus.Counter
	fetchFailures    *prometheus.CounterVec
	sessionsLive     prometheus.Gauge
	sessionsEvicted  prometheus.Counter
	accountsCreated  prometheus.Counter
}{
	updatesTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "updates_total",
		Help:      "Total number of handled Telegram updates.",
	}),
	handlerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "handler_errors_total",
		Help:      "Handler errors by kind.",
	}, []string{"kind"}),
	handlerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "handler_duration_seconds",
		Help:      "Handler execution duration.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}),
	broadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "broadcasts_total",
		Help:      "Total number of broadcast firings delivered to channels.",
	}),
	broadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "broadcast_errors_total",
		Help:      "Failed channel deliveries.",
	}),
	fetchFailures: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "fetch_failures_total",
		Help:      "Failed price fetches by source.",
	}, []string{"source"}),
	sessionsLive: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_live",
		Help:      "Number of live sessions in the cache.",
	}),
	sessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_evicted_total",
		Help:      "Idle sessions written back and evicted.",
	}),
	accountsCreated: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "accounts_created_total",
		Help:      "Fresh accounts created on first contact.",
	}),
}

// errorKind classifies a handler error for the error counter.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsBlockedError(err):
		return "bot_blocked"
	case errm.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errm.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errm.Is(err, ErrNoLatestData):
		return "no_data"
	default:
		return "handler"
	}
}
