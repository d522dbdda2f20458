package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/bingo/internal/printer"
	"github.com/dyluth/bingo/internal/watch"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	watchExperiment   string
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream conversion events as they are scored",
	Long: `Stream conversion events live until interrupted.

Requires the redis store: events are delivered over Redis Pub/Sub, so
events scored while nobody is watching are not replayed (use
'bingo events' for history).

Output Formats:
  default - Human-readable lines with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  bingo watch
  bingo watch --experiment button_color --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchExperiment, "experiment", "e", "", "Only events of this experiment")
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	format := watch.OutputFormat(watchOutputFormat)
	if format != watch.OutputFormatDefault && format != watch.OutputFormatJSON {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	client, ok := store.(*ledger.Client)
	if !ok {
		return printer.Error(
			"watch requires the redis store",
			fmt.Sprintf("The configured store driver is %s, which has no live event feed.", cfg.Store.Driver),
			[]string{"Read recorded events instead:\n  bingo events NAME"},
		)
	}

	sub, err := client.SubscribeConversionEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to conversion events: %w", err)
	}
	defer sub.Close()

	if format == watch.OutputFormatDefault {
		printer.Step("Watching conversions in namespace '%s' (Ctrl+C to stop)\n", cfg.Namespace)
	}

	_, err = watch.StreamConversions(ctx, sub, watch.Options{
		Format:     format,
		Experiment: watchExperiment,
		OnError: func(err error) {
			printer.Warning("%v\n", err)
		},
	}, cmd.OutOrStdout())
	return err
}
