package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fuelwatch/internal/app"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Display recent ingestion and alert passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.RunsOptions{
			Limit: runsLimit,
		}

		return getApp().Runs(cmd.Context(), opts)
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to display")
}
