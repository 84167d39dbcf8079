package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sibyl",
	Short: "Sibyl - multi-task inference serving engine",
	Long: `Sibyl serves real-time multi-task predictions for tracked symbols.

It loads promoted models from the registry, caches derived features, fans
each request out to every framework trained for a task and aggregates the
outputs into an ensemble.

Usage:
  go run ./cmd/sibyl [command]

Examples:
  go run ./cmd/sibyl serve
  go run ./cmd/sibyl tasks
  go run ./cmd/sibyl reload
  go run ./cmd/sibyl predict BTCUSDT --tasks return_1step`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
