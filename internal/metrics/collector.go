// Package metrics records engine activity. The engine talks to the Collector
// interface; NopMetrics discards everything and PrometheusCollector exports it.
package metrics

// Assignment results reported to RecordAssignment.
const (
	AssignmentCommitted = "committed" // this call wrote the assignment
	AssignmentExisting  = "existing"  // identity was already enrolled
	AssignmentRetired   = "retired"   // control served for a retired experiment
)

// Operation results reported to ObserveOperation.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Collector is implemented by metric sinks.
type Collector interface {
	// RecordExperimentCreated counts an experiment created through the engine.
	RecordExperimentCreated(experiment string)

	// RecordAssignment counts an ab_test answer by result.
	RecordAssignment(experiment, result string)

	// RecordConversion counts a bingo call and how many experiments it scored.
	RecordConversion(conversion string, scored int)

	// RecordConversionRejected counts a bingo call that scored nothing, by reason.
	RecordConversionRejected(reason string)

	// ObserveOperation records the latency of an engine operation.
	ObserveOperation(op, result string, seconds float64)
}
