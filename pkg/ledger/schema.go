package ledger

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced so that several bingo
// deployments can safely share a single Redis server.
//
// Key pattern: bingo:{namespace}:{entity}[:{id}[:{facet}]]

// ExperimentsKey returns the Redis key for the experiment definitions hash.
// Pattern: bingo:{namespace}:experiments
func ExperimentsKey(namespace string) string {
	return fmt.Sprintf("bingo:%s:experiments", namespace)
}

// ExperimentStatusKey returns the Redis key for the experiment status hash.
// Pattern: bingo:{namespace}:experiment_status
func ExperimentStatusKey(namespace string) string {
	return fmt.Sprintf("bingo:%s:experiment_status", namespace)
}

// AssignmentsKey returns the Redis key for an identity's assignment hash.
// Pattern: bingo:{namespace}:assignments:{identity}
func AssignmentsKey(namespace, identity string) string {
	return fmt.Sprintf("bingo:%s:assignments:%s", namespace, identity)
}

// ParticipantsKey returns the Redis key for an experiment's participant counters.
// Pattern: bingo:{namespace}:experiment:{name}:participants
func ParticipantsKey(namespace, experiment string) string {
	return fmt.Sprintf("bingo:%s:experiment:%s:participants", namespace, experiment)
}

// ConversionCountsKey returns the Redis key for an experiment's conversion counters.
// Pattern: bingo:{namespace}:experiment:{name}:conversions
func ConversionCountsKey(namespace, experiment string) string {
	return fmt.Sprintf("bingo:%s:experiment:%s:conversions", namespace, experiment)
}

// ConversionEventsKey returns the Redis stream key holding an experiment's conversion events.
// Pattern: bingo:{namespace}:experiment:{name}:events
func ConversionEventsKey(namespace, experiment string) string {
	return fmt.Sprintf("bingo:%s:experiment:%s:events", namespace, experiment)
}

// ConversionEventsChannel returns the Pub/Sub channel name for conversion events.
// Pattern: bingo:{namespace}:conversion_events
func ConversionEventsChannel(namespace string) string {
	return fmt.Sprintf("bingo:%s:conversion_events", namespace)
}

// ExperimentChangesChannel returns the Pub/Sub channel announcing experiment
// creation and status changes.
// Pattern: bingo:{namespace}:experiment_changes
func ExperimentChangesChannel(namespace string) string {
	return fmt.Sprintf("bingo:%s:experiment_changes", namespace)
}
