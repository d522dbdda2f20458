package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis values
//
// Experiment definitions are immutable, so they are stored as a single JSON
// document per experiment. Status is the one mutable field and lives in its own
// hash so a status change never rewrites the definition. Conversion events are
// stream entries: flat string-to-string maps.

// experimentDefinition is the immutable part of an Experiment as persisted.
type experimentDefinition struct {
	Name            string        `json:"canonical_name"`
	Alternatives    []Alternative `json:"alternatives"`
	ConversionNames []string      `json:"conversion_names"`
	CreatedAtMs     int64         `json:"created_at_ms"`
}

// ExperimentToJSON encodes the immutable definition of an experiment.
// Status is deliberately left out; see ExperimentStatusKey.
func ExperimentToJSON(e *Experiment) (string, error) {
	conversions := e.ConversionNames
	if conversions == nil {
		conversions = []string{}
	}

	data, err := json.Marshal(experimentDefinition{
		Name:            e.Name,
		Alternatives:    e.Alternatives,
		ConversionNames: conversions,
		CreatedAtMs:     e.CreatedAtMs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal experiment definition: %w", err)
	}
	return string(data), nil
}

// JSONToExperiment decodes a stored definition and attaches its status.
// An empty status is read as live, matching experiments written before
// status tracking existed.
func JSONToExperiment(definition string, status string) (*Experiment, error) {
	var def experimentDefinition
	if err := json.Unmarshal([]byte(definition), &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal experiment definition: %w", err)
	}

	if def.ConversionNames == nil {
		def.ConversionNames = []string{}
	}

	st := Status(status)
	if st == "" {
		st = StatusLive
	}

	return &Experiment{
		Name:            def.Name,
		Alternatives:    def.Alternatives,
		ConversionNames: def.ConversionNames,
		Status:          st,
		CreatedAtMs:     def.CreatedAtMs,
	}, nil
}

// ConversionEventToValues converts a conversion event to Redis stream entry values.
func ConversionEventToValues(ev *ConversionEvent) map[string]interface{} {
	return map[string]interface{}{
		"id":           ev.ID,
		"identity":     ev.Identity,
		"experiment":   ev.Experiment,
		"alternative":  ev.Alternative,
		"conversion":   ev.Conversion,
		"timestamp_ms": ev.TimestampMs,
	}
}

// ValuesToConversionEvent converts Redis stream entry values back to a conversion event.
func ValuesToConversionEvent(values map[string]interface{}) (*ConversionEvent, error) {
	str := func(field string) string {
		s, _ := values[field].(string)
		return s
	}

	ts, err := strconv.ParseInt(str("timestamp_ms"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp_ms field: %w", err)
	}

	return &ConversionEvent{
		ID:          str("id"),
		Identity:    str("identity"),
		Experiment:  str("experiment"),
		Alternative: str("alternative"),
		Conversion:  str("conversion"),
		TimestampMs: ts,
	}, nil
}

// BuildStats merges counter hashes with the experiment's alternatives,
// keeping alternative order and reporting zero for alternatives with no data.
func BuildStats(e *Experiment, participants, conversions map[string]int64) *Stats {
	stats := &Stats{
		Experiment:   e.Name,
		Status:       e.Status,
		Alternatives: make([]AlternativeStats, 0, len(e.Alternatives)),
	}
	for _, alt := range e.Alternatives {
		stats.Alternatives = append(stats.Alternatives, AlternativeStats{
			Value:        alt.Value,
			Weight:       alt.Weight,
			Participants: participants[alt.Key()],
			Conversions:  conversions[alt.Key()],
		})
	}
	return stats
}
