package engine

import (
	"fmt"

	"github.com/dyluth/bingo/pkg/ledger"
)

// Definition carries the creation-only parameters of ab_test. A nil field
// means the caller did not supply it and the default applies.
type Definition struct {
	Alternatives    []ledger.Alternative
	ConversionNames []string
}

// ParseDefinition decodes the raw wire parameters. An empty string means the
// parameter was absent. Malformed input fails with ErrInvalidArgument.
func ParseDefinition(alternativeParams, conversionNames string) (*Definition, error) {
	def := &Definition{}

	if alternativeParams != "" {
		alts, err := ledger.ParseAlternatives([]byte(alternativeParams))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		def.Alternatives = alts
	}

	if conversionNames != "" {
		names, err := ledger.ParseConversionNames([]byte(conversionNames))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		}
		def.ConversionNames = dedupe(names)
	}

	return def, nil
}

// experiment builds the validated definition for name, filling defaults:
// alternatives true/false and a single conversion named after the experiment.
func (d *Definition) experiment(name string) (*ledger.Experiment, error) {
	e := &ledger.Experiment{
		Name:            name,
		Alternatives:    ledger.DefaultAlternatives(),
		ConversionNames: []string{name},
		Status:          ledger.StatusLive,
	}
	if d != nil && d.Alternatives != nil {
		e.Alternatives = d.Alternatives
	}
	if d != nil && d.ConversionNames != nil {
		e.ConversionNames = d.ConversionNames
	}

	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return e, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
