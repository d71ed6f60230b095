package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fuelwatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Skip app construction; version needs no config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}
