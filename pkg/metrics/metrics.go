package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexus"

// Metrics holds the Prometheus instruments for the request layer. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	RetryAttempts  *prometheus.CounterVec
	LockWait       *prometheus.HistogramVec
	LockTimeouts   *prometheus.CounterVec
	FetchAttempts  *prometheus.CounterVec
	SessionChecks  *prometheus.CounterVec
	TenantResolves *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of retried operation attempts by outcome.",
		}, []string{"outcome"}), // outcome: success, retry, failed
		LockWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a named lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"name"}),
		LockTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Total number of named lock acquisitions that timed out.",
		}, []string{"name"}),
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Total number of HTTP attempts by result class.",
		}, []string{"result"}), // result: 2xx, 3xx, 4xx, 5xx, error
		SessionChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "checks_total",
			Help:      "Total number of session checks by result.",
		}, []string{"result"}), // result: cached, valid, absent, unknown
		TenantResolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tenant",
			Name:      "resolutions_total",
			Help:      "Total number of tenant resolutions by winning source.",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveRetry(outcome string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockWait(name string, wait time.Duration) {
	if m == nil {
		return
	}
	m.LockWait.WithLabelValues(name).Observe(wait.Seconds())
}

func (m *Metrics) ObserveLockTimeout(name string) {
	if m == nil {
		return
	}
	m.LockTimeouts.WithLabelValues(name).Inc()
}

func (m *Metrics) ObserveFetch(result string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSessionCheck(result string) {
	if m == nil {
		return
	}
	m.SessionChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTenantResolve(source string) {
	if m == nil {
		return
	}
	m.TenantResolves.WithLabelValues(source).Inc()
}
