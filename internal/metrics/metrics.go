// Package metrics defines the Prometheus collectors exported by workpump.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workpump"

// Metrics holds the pipeline collectors.
type Metrics struct {
	reg prometheus.Registerer

	admitted          prometheus.Counter
	admissionFailures prometheus.Counter
	pollErrors        prometheus.Counter
	attempts          prometheus.Counter
	outcomes          *prometheus.CounterVec
	execution         prometheus.Histogram
	inflight          prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// It panics if any collector is already registered, like MustRegister.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reg: reg,
		admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admitted_total",
			Help:      "Work items pushed into the queue by the poller or rehydrator.",
		}),
		admissionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_failures_total",
			Help:      "Queue pushes that failed and left the item unqueued.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Poll cycles skipped because the store scan or write failed.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Execution attempts started.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Finished executions by outcome.",
		}, []string{"outcome"}),
		execution: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_seconds",
			Help:      "Wall time of one item execution including retries and backoff.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight",
			Help:      "Executions currently holding a worker slot.",
		}),
	}
	reg.MustRegister(
		m.admitted,
		m.admissionFailures,
		m.pollErrors,
		m.attempts,
		m.outcomes,
		m.execution,
		m.inflight,
	)
	return m
}

// ObserveQueueDepth registers a gauge that reads depth on every scrape.
func (m *Metrics) ObserveQueueDepth(depth func() int) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Approximate number of items waiting in the in-memory queue.",
	}, func() float64 {
		return float64(depth())
	}))
}

// Admitted counts n items pushed into the queue.
func (m *Metrics) Admitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.admitted.Add(float64(n))
}

// AdmissionFailed counts one item whose push was rejected.
func (m *Metrics) AdmissionFailed() {
	if m == nil {
		return
	}
	m.admissionFailures.Inc()
}

// PollFailed counts a skipped admission cycle.
func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

// AttemptStarted counts one processor invocation.
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// ExecutionStarted marks a worker slot as busy.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// ExecutionFinished releases the slot and records the outcome and duration.
func (m *Metrics) ExecutionFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.outcomes.WithLabelValues(outcome).Inc()
	m.execution.Observe(took.Seconds())
}
