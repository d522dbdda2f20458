package ledger

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// Experiment is a named A/B test. Alternatives and ConversionNames are fixed at
// creation; Status is the only field that changes afterwards.
type Experiment struct {
	Name            string        `json:"canonical_name"`   // Unique identifier for the registry's lifetime
	Alternatives    []Alternative `json:"alternatives"`     // Ordered arms; the first one is the control
	ConversionNames []string      `json:"conversion_names"` // Conversion names this experiment listens for
	Status          Status        `json:"status"`           // live or retired
	CreatedAtMs     int64         `json:"created_at_ms"`    // Unix timestamp in milliseconds when created
}

// Alternative is a single arm of an experiment.
// Value holds compact JSON so booleans, numbers, strings and objects all round-trip
// exactly as the creator supplied them.
type Alternative struct {
	Value  json.RawMessage `json:"value"`
	Weight float64         `json:"weight"` // Relative probability, >= 0
}

// Key returns the canonical text of the alternative's value.
// This is the form stored in assignments and counters.
func (a Alternative) Key() string {
	return string(a.Value)
}

// Status defines the lifecycle state of an experiment.
type Status string

const (
	// StatusLive experiments hand out new assignments and score conversions
	StatusLive Status = "live"

	// StatusRetired experiments keep their history but refuse new assignments
	// and are never scored. There is no transition out of retired.
	StatusRetired Status = "retired"
)

// ConversionEvent records one conversion attributed to one enrolled identity.
// Events are append-only and never mutated.
type ConversionEvent struct {
	ID          string `json:"id"`           // UUID
	Identity    string `json:"identity"`     // Identity that converted
	Experiment  string `json:"experiment"`   // Canonical experiment name
	Alternative string `json:"alternative"`  // Alternative key the identity is assigned to
	Conversion  string `json:"conversion"`   // Conversion name that was scored
	TimestampMs int64  `json:"timestamp_ms"` // Unix timestamp in milliseconds
}

// AlternativeStats holds the running counters for one alternative.
type AlternativeStats struct {
	Value        json.RawMessage `json:"value"`
	Weight       float64         `json:"weight"`
	Participants int64           `json:"participants"`
	Conversions  int64           `json:"conversions"`
}

// Stats summarises participation and conversions for an experiment.
type Stats struct {
	Experiment   string             `json:"experiment"`
	Status       Status             `json:"status"`
	Alternatives []AlternativeStats `json:"alternatives"`
}

// Validate checks if the status is one of the defined constants.
func (s Status) Validate() error {
	switch s {
	case StatusLive, StatusRetired:
		return nil
	default:
		return fmt.Errorf("invalid status: %q", s)
	}
}

// Live reports whether the experiment accepts new assignments.
func (e *Experiment) Live() bool {
	return e.Status == StatusLive
}

// Declares reports whether the experiment listens for the given conversion name.
func (e *Experiment) Declares(conversion string) bool {
	for _, name := range e.ConversionNames {
		if name == conversion {
			return true
		}
	}
	return false
}

// Alternative looks up an alternative by its key.
func (e *Experiment) Alternative(key string) (Alternative, bool) {
	for _, alt := range e.Alternatives {
		if alt.Key() == key {
			return alt, true
		}
	}
	return Alternative{}, false
}

// Control returns the first alternative, served to identities that cannot be
// enrolled (for example once the experiment is retired).
func (e *Experiment) Control() Alternative {
	return e.Alternatives[0]
}

// TotalWeight returns the sum of all alternative weights.
func (e *Experiment) TotalWeight() float64 {
	var total float64
	for _, alt := range e.Alternatives {
		total += alt.Weight
	}
	return total
}

// Validate performs structural validation on the experiment.
// Returns an error describing the first violation found.
func (e *Experiment) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("canonical_name is required")
	}

	if err := ValidateAlternatives(e.Alternatives); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(e.ConversionNames))
	for i, name := range e.ConversionNames {
		if name == "" {
			return fmt.Errorf("conversion_names[%d] is empty", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate conversion name %q", name)
		}
		seen[name] = struct{}{}
	}

	if err := e.Status.Validate(); err != nil {
		return err
	}

	return nil
}

// ValidateAlternatives checks the alternative set on its own: non-empty, valid
// JSON values, unique values, finite non-negative weights with at least one
// positive weight and a finite total.
func ValidateAlternatives(alts []Alternative) error {
	if len(alts) == 0 {
		return fmt.Errorf("at least one alternative is required")
	}

	seen := make(map[string]struct{}, len(alts))
	positive := false
	var total float64
	for i, alt := range alts {
		if len(alt.Value) == 0 || !json.Valid(alt.Value) {
			return fmt.Errorf("alternatives[%d]: value is not valid JSON", i)
		}
		if math.IsNaN(alt.Weight) || math.IsInf(alt.Weight, 0) {
			return fmt.Errorf("alternatives[%d]: weight must be finite", i)
		}
		if alt.Weight < 0 {
			return fmt.Errorf("alternatives[%d]: weight must be >= 0, got %v", i, alt.Weight)
		}
		if alt.Weight > 0 {
			positive = true
		}
		total += alt.Weight
		if _, dup := seen[alt.Key()]; dup {
			return fmt.Errorf("duplicate alternative value %s", alt.Key())
		}
		seen[alt.Key()] = struct{}{}
	}

	if !positive {
		return fmt.Errorf("at least one alternative must have a positive weight")
	}
	if math.IsInf(total, 0) {
		return fmt.Errorf("total weight must be finite")
	}

	return nil
}

// Validate checks a conversion event before it is written.
func (ev *ConversionEvent) Validate() error {
	if _, err := uuid.Parse(ev.ID); err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	if ev.Identity == "" {
		return fmt.Errorf("identity is required")
	}
	if ev.Experiment == "" {
		return fmt.Errorf("experiment is required")
	}
	if ev.Alternative == "" {
		return fmt.Errorf("alternative is required")
	}
	if ev.Conversion == "" {
		return fmt.Errorf("conversion is required")
	}
	return nil
}
