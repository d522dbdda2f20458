package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/bingo/pkg/ledger"
)

// FormatExperiments writes experiments as a table and returns how many rows
// were written.
func FormatExperiments(w io.Writer, experiments []*ledger.Experiment, namespace string, now time.Time) int {
	if len(experiments) == 0 {
		fmt.Fprintf(w, "No experiments found in namespace '%s'\n", namespace)
		return 0
	}

	fmt.Fprintf(w, "Experiments in namespace '%s':\n\n", namespace)
	fmt.Fprintf(w, "%-24s %-8s %-30s %-24s %s\n", "NAME", "STATUS", "ALTERNATIVES", "CONVERSIONS", "AGE")
	fmt.Fprintf(w, "%-24s %-8s %-30s %-24s %s\n",
		strings.Repeat("-", 24), strings.Repeat("-", 8), strings.Repeat("-", 30), strings.Repeat("-", 24), strings.Repeat("-", 8))

	for _, e := range experiments {
		fmt.Fprintf(w, "%-24s %-8s %-30s %-24s %s\n",
			truncate(e.Name, 24),
			e.Status,
			truncate(formatAlternatives(e.Alternatives), 30),
			truncate(strings.Join(e.ConversionNames, ","), 24),
			formatAge(e.CreatedAtMs, now),
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(experiments), plural(len(experiments), "experiment"))
	return len(experiments)
}

// FormatStats writes per-alternative participation and conversions.
func FormatStats(w io.Writer, stats *ledger.Stats) {
	fmt.Fprintf(w, "Experiment '%s' (%s)\n\n", stats.Experiment, stats.Status)
	fmt.Fprintf(w, "%-24s %-8s %-12s %-12s %s\n", "ALTERNATIVE", "WEIGHT", "PARTICIPANTS", "CONVERSIONS", "RATE")
	fmt.Fprintf(w, "%-24s %-8s %-12s %-12s %s\n",
		strings.Repeat("-", 24), strings.Repeat("-", 8), strings.Repeat("-", 12), strings.Repeat("-", 12), strings.Repeat("-", 7))

	var participants, conversions int64
	for _, alt := range stats.Alternatives {
		fmt.Fprintf(w, "%-24s %-8s %-12d %-12d %s\n",
			truncate(string(alt.Value), 24),
			formatWeight(alt.Weight),
			alt.Participants,
			alt.Conversions,
			formatRate(alt.Conversions, alt.Participants),
		)
		participants += alt.Participants
		conversions += alt.Conversions
	}

	fmt.Fprintf(w, "\n%d %s, %d %s\n",
		participants, plural(int(participants), "participant"),
		conversions, plural(int(conversions), "conversion"))
}

// FormatEvents writes conversion events as a table, oldest first.
func FormatEvents(w io.Writer, events []*ledger.ConversionEvent, experiment string) int {
	if len(events) == 0 {
		fmt.Fprintf(w, "No conversion events found for experiment '%s'\n", experiment)
		return 0
	}

	fmt.Fprintf(w, "Conversion events for experiment '%s':\n\n", experiment)
	fmt.Fprintf(w, "%-8s %-20s %-20s %-20s %s\n", "ID", "TIME", "IDENTITY", "ALTERNATIVE", "CONVERSION")
	fmt.Fprintf(w, "%-8s %-20s %-20s %-20s %s\n",
		strings.Repeat("-", 8), strings.Repeat("-", 20), strings.Repeat("-", 20), strings.Repeat("-", 20), strings.Repeat("-", 16))

	for _, ev := range events {
		fmt.Fprintf(w, "%-8s %-20s %-20s %-20s %s\n",
			truncateID(ev.ID),
			time.UnixMilli(ev.TimestampMs).UTC().Format("2006-01-02 15:04:05"),
			truncate(ev.Identity, 20),
			truncate(ev.Alternative, 20),
			ev.Conversion,
		)
	}

	fmt.Fprintf(w, "\n%d %s found\n", len(events), plural(len(events), "event"))
	return len(events)
}

// FormatJSONL writes each item as one compact JSON object per line.
func FormatJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatJSON writes a single value as indented JSON.
func FormatJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

// formatAlternatives renders "value:weight" pairs, omitting weights of 1.
func formatAlternatives(alts []ledger.Alternative) string {
	parts := make([]string, 0, len(alts))
	for _, alt := range alts {
		if alt.Weight == 1 {
			parts = append(parts, alt.Key())
			continue
		}
		parts = append(parts, alt.Key()+":"+formatWeight(alt.Weight))
	}
	return strings.Join(parts, ",")
}

func formatWeight(weight float64) string {
	return fmt.Sprintf("%g", weight)
}

// formatRate is conversions per participant as a percentage, "-" with no participants.
func formatRate(conversions, participants int64) string {
	if participants == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(conversions)/float64(participants))
}

// formatAge shows a creation timestamp relative to now ("5m ago").
func formatAge(timestampMs int64, now time.Time) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now.Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, width int) string {
	if s == "" {
		return "-"
	}
	if len(s) > width {
		return s[:width-3] + "..."
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
