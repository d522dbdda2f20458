package commands

import (
	"time"

	"github.com/dyluth/bingo/internal/printer"
	"github.com/dyluth/bingo/internal/report"
	"github.com/dyluth/bingo/internal/timespec"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	eventsSince  string
	eventsUntil  string
	eventsOutput string
)

var eventsCmd = &cobra.Command{
	Use:   "events NAME",
	Short: "List recorded conversion events of an experiment",
	Long: `List the conversion events recorded for an experiment, oldest first.

--since and --until accept a duration ago ("1h", "30m"), a date
("2025-10-29") or an RFC3339 timestamp ("2025-10-29T13:00:00Z").

Examples:
  bingo events button_color --since 24h
  bingo events button_color --since 2025-10-01 --until 2025-10-08 -o jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "Only events at or after this time")
	eventsCmd.Flags().StringVar(&eventsUntil, "until", "", "Only events before this time")
	eventsCmd.Flags().StringVarP(&eventsOutput, "output", "o", "default", "Output format (default or jsonl)")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	name := args[0]

	format, err := outputFormat(eventsOutput)
	if err != nil {
		return err
	}
	window, err := timespec.ParseRange(eventsSince, eventsUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time range", err.Error(), []string{"See: bingo events --help"})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := report.ListEvents(cmd.Context(), store, name, window, format, cmd.OutOrStdout()); err != nil {
		if ledger.IsNotFound(err) {
			return experimentNotFound(name)
		}
		return err
	}
	return nil
}
