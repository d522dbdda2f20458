package metrics

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when the host process
// collects metrics some other way.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordExperimentCreated discards the metric.
func (n *NopMetrics) RecordExperimentCreated(_ /* experiment */ string) {
	// No-op
}

// RecordAssignment discards the metric.
func (n *NopMetrics) RecordAssignment(_ /* experiment */, _ /* result */ string) {
	// No-op
}

// RecordConversion discards the metric.
func (n *NopMetrics) RecordConversion(_ /* conversion */ string, _ /* scored */ int) {
	// No-op
}

// RecordConversionRejected discards the metric.
func (n *NopMetrics) RecordConversionRejected(_ /* reason */ string) {
	// No-op
}

// ObserveOperation discards the metric.
func (n *NopMetrics) ObserveOperation(_ /* op */, _ /* result */ string, _ /* seconds */ float64) {
	// No-op
}
