package commands

import (
	"errors"

	"github.com/dyluth/bingo/internal/printer"
	"github.com/dyluth/bingo/internal/scaffold"
	"github.com/spf13/cobra"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter bingo.yml",
	Long: `Write a starter configuration to the --config path (bingo.yml by default).

Use --force to overwrite an existing file.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing configuration file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := scaffold.Initialize(configPath, forceInit); err != nil {
		if errors.Is(err, scaffold.ErrAlreadyInitialized) {
			return printer.Error(
				"configuration already exists",
				err.Error(),
				[]string{"Use 'bingo init --force' to overwrite it"},
			)
		}
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Wrote %s\n", configPath)
	printer.Info("\nNext steps:\n  1. Set store.redis_url and control.tokens\n  2. Run 'bingo serve --config %s'\n", configPath)
	return nil
}
