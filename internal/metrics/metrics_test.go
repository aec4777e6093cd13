package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Admitted(3)
		m.AdmissionFailed()
		m.PollFailed()
		m.AttemptStarted()
		m.ExecutionStarted()
		m.ExecutionFinished("succeeded", time.Second)
		m.ObserveQueueDepth(func() int { return 1 })
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Admitted(3)
	m.Admitted(0)
	m.AdmissionFailed()
	m.PollFailed()
	m.AttemptStarted()
	m.AttemptStarted()
	m.ExecutionStarted()
	m.ExecutionStarted()
	m.ExecutionFinished("succeeded", 10*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.admitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("succeeded")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.outcomes.WithLabelValues("exhausted")))
}

func TestMetrics_QueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	depth := 7
	m.ObserveQueueDepth(func() int { return depth })

	n, err := testutil.GatherAndCount(reg, "workpump_queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	families, err := reg.Gather()
	require.NoError(t, err)
	var got float64
	for _, f := range families {
		if f.GetName() == "workpump_queue_depth" {
			got = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, 7.0, got)
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
