package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopMetrics(t *testing.T) {
	m := NewNop()

	require.NotPanics(t, func() {
		m.RecordExperimentCreated("exp")
		m.RecordAssignment("exp", AssignmentCommitted)
		m.RecordConversion("click", 2)
		m.RecordConversionRejected("undeclared")
		m.ObserveOperation("ab_test", ResultOK, 0.01)
	})
}

func TestNewPrometheus_Defaults(t *testing.T) {
	p := NewPrometheus(nil, "")
	assert.Equal(t, "bingo", p.namespace)
	assert.Equal(t, prometheus.DefaultRegisterer, p.reg)
}

func TestPrometheusCollector_LazyRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheus(reg, "bingo")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestPrometheusCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "bingo")

	p.RecordExperimentCreated("button_color")
	p.RecordAssignment("button_color", AssignmentCommitted)
	p.RecordAssignment("button_color", AssignmentExisting)
	p.RecordAssignment("button_color", AssignmentExisting)
	p.RecordConversion("click", 2)
	p.RecordConversion("click", 0)
	p.RecordConversionRejected("undeclared")

	assert.Equal(t, 1.0, testutil.ToFloat64(p.experimentsCreated.WithLabelValues("button_color")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.assignments.WithLabelValues("button_color", AssignmentCommitted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.assignments.WithLabelValues("button_color", AssignmentExisting)))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.conversionCalls.WithLabelValues("click")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.conversionsScored.WithLabelValues("click")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.conversionsRejected.WithLabelValues("undeclared")))
}

func TestPrometheusCollector_OperationLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "bingo")

	p.ObserveOperation("bingo", ResultOK, 0.002)
	p.ObserveOperation("bingo", ResultError, 0.5)

	assert.Equal(t, 2, testutil.CollectAndCount(p.operationLatency))
	count, err := testutil.GatherAndCount(reg, "bingo_engine_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
