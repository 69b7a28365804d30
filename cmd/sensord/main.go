package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorloop/sensorcore/logger"
)

var rootCmd = &cobra.Command{
	Use:   "sensord",
	Short: "sensord - sensor evaluation daemon",
	Long: `sensord runs the sensor evaluation iteration loop: it polls every
registered sensor's user code on its configured interval, persists a tick
per evaluation attempt, and launches any resulting runs or backfills
through the Instance Store.

Examples:
  sensord run              # run the iteration loop in the foreground
  sensord version          # print version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
