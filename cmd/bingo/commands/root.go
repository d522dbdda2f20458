package commands

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/dyluth/bingo/internal/config"
	"github.com/dyluth/bingo/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bingo",
	Short: "Bingo - A/B testing service with sticky assignments",
	Long: `Bingo runs A/B experiments for web applications.

Client-side code asks the blotter which alternative an identity sees
(ab_test) and reports conversions (bingo). Assignments are sticky and
durable, so an identity keeps its bucket across requests and restarts.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		printer.SetOutput(cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Unknown flags on the root command are errors
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bingo.yml", "Path to the configuration file")
}

// loadConfig reads the configuration file. A missing default bingo.yml is not
// an error: defaults plus environment overrides are used instead.
func loadConfig(cmd *cobra.Command) (*config.BingoConfig, error) {
	_, statErr := os.Stat(configPath)
	if errors.Is(statErr, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg := &config.BingoConfig{Version: "1.0"}
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, printer.Error("invalid configuration", err.Error(), nil)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			[][2]string{{"Config", configPath}},
			[]string{"Check the file against the documented bingo.yml fields"},
		)
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.LogConfig, w io.Writer) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// quietLogger is used by one-shot commands, whose results are reported
// through the printer; only warnings and errors are logged.
func quietLogger(cmd *cobra.Command) *slog.Logger {
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
}
