// Package watch streams live conversion events to a terminal or a pipe.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/bingo/pkg/ledger"
)

// OutputFormat selects how streamed events are written.
type OutputFormat string

const (
	// OutputFormatDefault writes one human-readable line per event
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSON writes line-delimited JSON
	OutputFormatJSON OutputFormat = "json"
)

// Source delivers conversion events; *ledger.Subscription implements it.
type Source interface {
	Events() <-chan *ledger.ConversionEvent
	Errors() <-chan error
}

// Options controls what StreamConversions writes.
type Options struct {
	Format     OutputFormat
	Experiment string      // Only events of this experiment, empty = all
	OnError    func(error) // Called for undecodable messages, nil = ignored
}

// StreamConversions writes events from src to w until ctx is cancelled or the
// source closes. It returns the number of events written.
func StreamConversions(ctx context.Context, src Source, opts Options, w io.Writer) (int, error) {
	if opts.Format == "" {
		opts.Format = OutputFormatDefault
	}
	if opts.Format != OutputFormatDefault && opts.Format != OutputFormatJSON {
		return 0, fmt.Errorf("unknown output format: %s", opts.Format)
	}

	events, errs := src.Events(), src.Errors()
	written := 0

	for {
		select {
		case <-ctx.Done():
			return written, nil

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if opts.OnError != nil {
				opts.OnError(err)
			}

		case ev, ok := <-events:
			if !ok {
				return written, nil
			}
			if opts.Experiment != "" && ev.Experiment != opts.Experiment {
				continue
			}
			if err := writeEvent(w, ev, opts.Format); err != nil {
				return written, err
			}
			written++
		}
	}
}

func writeEvent(w io.Writer, ev *ledger.ConversionEvent, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal conversion event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	ts := time.UnixMilli(ev.TimestampMs).Format("15:04:05")
	_, err := fmt.Fprintf(w, "[%s] 🎯 %s: %s converted on %q (alternative %s)\n",
		ts, ev.Experiment, ev.Identity, ev.Conversion, ev.Alternative)
	return err
}
