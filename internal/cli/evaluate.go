package cli

import (
	"github.com/spf13/cobra"

	"fuelwatch/internal/app"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one alert evaluation pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{})
	},
}
