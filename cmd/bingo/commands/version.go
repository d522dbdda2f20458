package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bingo %s (commit: %s, built: %s)\n", orDefault(version, "dev"), orDefault(commit, "none"), orDefault(date, "unknown"))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
