package commands

import (
	"errors"
	"fmt"

	"github.com/dyluth/bingo/internal/engine"
	"github.com/dyluth/bingo/internal/printer"
	"github.com/dyluth/bingo/internal/report"
	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	experimentsOutput       string
	experimentsAlternatives string
	experimentsConversions  string
)

var experimentsCmd = &cobra.Command{
	Use:     "experiments",
	Aliases: []string{"exp"},
	Short:   "Inspect and manage experiments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every experiment",
	Long: `List every experiment, oldest first.

Output Formats:
  default - table with status, alternatives and conversion names
  jsonl   - one JSON object per experiment, for jq and scripts`,
	Args: cobra.NoArgs,
	RunE: runExperimentsList,
}

var experimentsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show participants and conversions per alternative",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentsShow,
}

var experimentsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an experiment",
	Long: `Create an experiment without going through the blotter.

--alternatives takes the same JSON as the blotter's alternative_params:
  a list of values            '["red", "blue"]'       (equal weights)
  an object of value->weight  '{"red": 3, "blue": 1}'
Omitted, the experiment is a true/false test.

--conversions takes a JSON list of conversion names; omitted, the
experiment listens for a conversion named after itself.

Examples:
  bingo experiments create button_color --alternatives '{"red": 1, "blue": 1}' --conversions '["click"]'`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentsCreate,
}

var experimentsRetireCmd = &cobra.Command{
	Use:   "retire NAME",
	Short: "Stop new assignments and conversion scoring for an experiment",
	Long: `Retire an experiment. Existing assignments keep being served, new
identities get the control alternative, and conversions are no longer
scored. History is kept and retirement cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: runExperimentsRetire,
}

func init() {
	experimentsListCmd.Flags().StringVarP(&experimentsOutput, "output", "o", "default", "Output format (default or jsonl)")
	experimentsShowCmd.Flags().StringVarP(&experimentsOutput, "output", "o", "default", "Output format (default or jsonl)")
	experimentsCreateCmd.Flags().StringVar(&experimentsAlternatives, "alternatives", "", "Alternatives as JSON")
	experimentsCreateCmd.Flags().StringVar(&experimentsConversions, "conversions", "", "Conversion names as a JSON list")

	experimentsCmd.AddCommand(experimentsListCmd, experimentsShowCmd, experimentsCreateCmd, experimentsRetireCmd)
	rootCmd.AddCommand(experimentsCmd)
}

func outputFormat(value string) (report.OutputFormat, error) {
	format, err := report.ParseOutputFormat(value)
	if err != nil {
		return "", printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", value),
			[]string{"Valid formats: default, jsonl"},
		)
	}
	return format, nil
}

func runExperimentsList(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(experimentsOutput)
	if err != nil {
		return err
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

	return report.ListExperiments(cmd.Context(), store, cfg.Namespace, format, cmd.OutOrStdout())
}

func runExperimentsShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(experimentsOutput)
	if err != nil {
		return err
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

	if err := report.ShowExperiment(cmd.Context(), store, args[0], format, cmd.OutOrStdout()); err != nil {
		if ledger.IsNotFound(err) {
			return experimentNotFound(args[0])
		}
		return err
	}
	return nil
}

func runExperimentsCreate(cmd *cobra.Command, args []string) error {
	name := args[0]

	def, err := engine.ParseDefinition(experimentsAlternatives, experimentsConversions)
	if err != nil {
		return printer.Error("invalid experiment definition", err.Error(), []string{"See: bingo experiments create --help"})
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

	eng := engine.New(store, engine.WithLogger(quietLogger(cmd)))
	exp, err := eng.Create(cmd.Context(), name, def)
	switch {
	case errors.Is(err, engine.ErrAlreadyExists):
		return printer.Error(
			fmt.Sprintf("experiment '%s' already exists", name),
			"Experiment definitions are fixed once created.",
			[]string{fmt.Sprintf("Inspect it:\n  bingo experiments show %s", name)},
		)
	case errors.Is(err, engine.ErrInvalidArgument):
		return printer.Error("invalid experiment definition", err.Error(), nil)
	case err != nil:
		return err
	}

	printer.Success("Created experiment '%s' with %d alternatives\n", exp.Name, len(exp.Alternatives))
	return nil
}

func runExperimentsRetire(cmd *cobra.Command, args []string) error {
	name := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	eng := engine.New(store, engine.WithLogger(quietLogger(cmd)))
	if err := eng.Retire(cmd.Context(), name); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return experimentNotFound(name)
		}
		return err
	}

	printer.Success("Retired experiment '%s'\n", name)
	return nil
}

func experimentNotFound(name string) error {
	return printer.Error(
		fmt.Sprintf("experiment '%s' not found", name),
		"",
		[]string{"List experiments:\n  bingo experiments list"},
	)
}
