package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// Runs prints recent ingestion and alert passes.
func (a *App) Runs(ctx context.Context, opts RunsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tKind\tStatus\tDuration\tCounters\tErrors")

	for _, run := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\n",
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Kind,
			run.Status,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			formatCounters(run.Counters),
			len(run.Errors),
		)
	}

	return writer.Flush()
}

func formatCounters(counters map[string]int) string {
	if len(counters) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(counters))
	for _, key := range sortedKeys(counters) {
		if counters[key] == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", key, counters[key]))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
