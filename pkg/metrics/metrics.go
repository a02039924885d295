// Package metrics exposes Prometheus counters and histograms for the
// protocol engine's exchange lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExchangeCount counts completed exchanges, labeled by protocol,
	// function code, and outcome ("ok", "exception", "error").
	ExchangeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbus_exchanges_total",
		Help: "Total number of request/response exchanges attempted.",
	}, []string{"protocol", "function", "outcome"})

	// ExchangeErrorCount counts exchanges that ended in an error, labeled
	// by the ErrorKind's identity (see pkg/modbus errors.go).
	ExchangeErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modbus_exchange_errors_total",
		Help: "Total number of exchanges that ended in an error, by kind.",
	}, []string{"kind"})

	// ExchangeDuration observes wall-clock time from request send to a
	// matched response (or terminal error), in seconds.
	ExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modbus_exchange_duration_seconds",
		Help:    "Duration of a single request/response exchange.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"protocol", "function"})

	// PendingGauge reports whether a client facade currently has a request
	// in flight (0 or 1), labeled by device.
	PendingGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "modbus_pending_requests",
		Help: "Whether a client facade has a request in flight (0 or 1).",
	}, []string{"device"})
)

// Outcome label values for ExchangeCount.
const (
	OutcomeOK        = "ok"
	OutcomeException = "exception"
	OutcomeError     = "error"
)

// ObserveExchange records one completed exchange: the counter by outcome
// and the duration histogram. It does not touch the error counter; callers
// record that separately with ObserveError.
func ObserveExchange(protocol, function, outcome string, seconds float64) {
	ExchangeCount.WithLabelValues(protocol, function, outcome).Inc()
	ExchangeDuration.WithLabelValues(protocol, function).Observe(seconds)
}

// ObserveError increments the error counter for a named ErrorKind.
func ObserveError(kind string) {
	ExchangeErrorCount.WithLabelValues(kind).Inc()
}

// SetPending reports whether device currently has a request outstanding.
func SetPending(device string, pending bool) {
	v := 0.0
	if pending {
		v = 1.0
	}
	PendingGauge.WithLabelValues(device).Set(v)
}
