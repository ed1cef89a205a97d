package prometheus

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/tickgraph/pkg/domain"
)

func TestCollectorCountsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRunSubmitted("echo")
	c.RecordRunSubmitted("echo")
	c.RecordRunCompleted("echo", domain.ExecutionStatusCompleted, time.Second)
	c.SetActiveRuns(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsSubmitted.WithLabelValues("echo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsCompleted.WithLabelValues("echo", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeRuns))
}

func TestCollectorEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.IncTicks("text")
	c.ObserveInvocation("text", "normalize", 10*time.Millisecond, nil)
	c.ObserveInvocation("text", "normalize", 10*time.Millisecond, errors.New("boom"))
	c.IncRetries("text", "normalize")
	c.IncDropped("text", "normalize")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ticks.WithLabelValues("text")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeInvocations.WithLabelValues("text", "normalize", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.nodeInvocations.WithLabelValues("text", "normalize", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retries.WithLabelValues("text", "normalize")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("text", "normalize")))
}

func TestWorkerPoolGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordWorkerPoolStatus(3, 2, 0)

	expected := `
# HELP tickgraph_worker_pool_busy Number of busy workers
# TYPE tickgraph_worker_pool_busy gauge
tickgraph_worker_pool_busy 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "tickgraph_worker_pool_busy"))
}

func TestCollectorsAreIndependentPerRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
