package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fuelwatch/internal/app"
)

var (
	exportStation   string
	exportFuel      string
	exportFrom      string
	exportTo        string
	exportPNG       string
	exportCSV       string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a station's price history as CSV or a chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportStation == "" {
			return fmt.Errorf("--station is required")
		}
		if exportPNG == "" && exportCSV == "" {
			return fmt.Errorf("at least one of --png or --csv is required")
		}

		from, err := parseTimeFlag("from", exportFrom)
		if err != nil {
			return err
		}
		to, err := parseTimeFlag("to", exportTo)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			StationID: exportStation,
			Fuel:      exportFuel,
			From:      from,
			To:        to,
			PNGPath:   exportPNG,
			CSVPath:   exportCSV,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("parse --%s %q: expected RFC3339 or YYYY-MM-DD", name, value)
}

func init() {
	exportCmd.Flags().StringVar(&exportStation, "station", "", "Station identifier to export")
	exportCmd.Flags().StringVar(&exportFuel, "fuel", "petrol", "Fuel type (petrol or diesel)")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start of the export window (RFC3339 or YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End of the export window (RFC3339 or YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportPNG, "png", "", "Write a price chart to this path")
	exportCmd.Flags().StringVar(&exportCSV, "csv", "", "Write raw history rows to this path")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Downsample to at most this many points (0 uses config)")
}
