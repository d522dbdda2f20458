// Package report renders ledger contents for the bingo CLI: experiment
// listings, per-alternative statistics and conversion event history.
package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dyluth/bingo/internal/timespec"
	"github.com/dyluth/bingo/pkg/ledger"
)

// OutputFormat specifies how listings are written.
type OutputFormat string

const (
	// OutputFormatDefault writes a human-readable table
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL writes one JSON object per line
	OutputFormatJSONL OutputFormat = "jsonl"
)

// ParseOutputFormat validates an --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case OutputFormatDefault, OutputFormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format: %s", s)
	}
}

// Source is the read side of the ledger the reports need.
type Source interface {
	ListExperiments(ctx context.Context) ([]*ledger.Experiment, error)
	GetExperiment(ctx context.Context, name string) (*ledger.Experiment, error)
	Stats(ctx context.Context, name string) (*ledger.Stats, error)
	ConversionEvents(ctx context.Context, experiment string, limit int64) ([]*ledger.ConversionEvent, error)
}

// ListExperiments writes every experiment, oldest first.
func ListExperiments(ctx context.Context, src Source, namespace string, format OutputFormat, w io.Writer) error {
	experiments, err := src.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}

	sort.Slice(experiments, func(i, j int) bool {
		if experiments[i].CreatedAtMs != experiments[j].CreatedAtMs {
			return experiments[i].CreatedAtMs < experiments[j].CreatedAtMs
		}
		return experiments[i].Name < experiments[j].Name
	})

	switch format {
	case OutputFormatDefault:
		FormatExperiments(w, experiments, namespace, time.Now())
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, experiments)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// ShowExperiment writes the statistics of one experiment. A missing
// experiment returns an error matching ledger.IsNotFound.
func ShowExperiment(ctx context.Context, src Source, name string, format OutputFormat, w io.Writer) error {
	stats, err := src.Stats(ctx, name)
	if err != nil {
		return err
	}

	switch format {
	case OutputFormatDefault:
		FormatStats(w, stats)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, []*ledger.Stats{stats})
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// ListEvents writes the conversion events of one experiment that fall inside
// window, oldest first.
func ListEvents(ctx context.Context, src Source, name string, window timespec.Range, format OutputFormat, w io.Writer) error {
	if _, err := src.GetExperiment(ctx, name); err != nil {
		return err
	}

	all, err := src.ConversionEvents(ctx, name, 0)
	if err != nil {
		return fmt.Errorf("failed to read conversion events: %w", err)
	}

	events := FilterEvents(all, window)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})

	switch format {
	case OutputFormatDefault:
		FormatEvents(w, events, name)
		return nil
	case OutputFormatJSONL:
		return FormatJSONL(w, events)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// FilterEvents keeps the events whose timestamp falls inside window.
func FilterEvents(events []*ledger.ConversionEvent, window timespec.Range) []*ledger.ConversionEvent {
	kept := make([]*ledger.ConversionEvent, 0, len(events))
	for _, ev := range events {
		if window.ContainsMs(ev.TimestampMs) {
			kept = append(kept, ev)
		}
	}
	return kept
}
