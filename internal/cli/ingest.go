package cli

import (
	"github.com/spf13/cobra"

	"fuelwatch/internal/app"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass from a file or the configured feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.IngestOptions{
			FilePath: ingestFile,
		}
		return getApp().Ingest(cmd.Context(), opts)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "Path to a local batch file (defaults to feed.url)")
}
