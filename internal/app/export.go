package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fuelwatch/internal/domain"
)

// Export renders one station's price history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.StationID == "" {
		return errors.New("--station is required")
	}

	fuel, err := domain.ParseFuelType(opts.Fuel)
	if err != nil {
		return err
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, -3, 0)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := store.ListHistory(ctx, opts.StationID, fuel, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no history found for export window")
		return nil
	}

	downsampled := downsampleHistory(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting price history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.StationID, fuel, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleHistory(entries []domain.PriceHistoryEntry, max int) []domain.PriceHistoryEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}

	result := make([]domain.PriceHistoryEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeHistoryCSV(path string, entries []domain.PriceHistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"observed_at", "station_id", "fuel", "price_ppl"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		price := ""
		if entry.PricePpl != nil {
			price = strconv.FormatInt(*entry.PricePpl, 10)
		}
		record := []string{
			entry.ObservedAt.Format(time.RFC3339),
			entry.StationID,
			string(entry.Fuel),
			price,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, stationID string, fuel domain.FuelType, entries []domain.PriceHistoryEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(entries))
	prices := make([]float64, 0, len(entries))
	for _, entry := range entries {
		// Absent-price transitions leave gaps in the chart.
		if entry.PricePpl == nil {
			continue
		}
		x = append(x, entry.ObservedAt)
		prices = append(prices, float64(*entry.PricePpl))
	}
	if len(x) < 2 {
		return errors.New("not enough priced points to chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (pence per litre)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    fmt.Sprintf("%s %s", stationID, fuel),
				XValues: x,
				YValues: prices,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
