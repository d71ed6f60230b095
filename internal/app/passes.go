package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"fuelwatch/internal/alerting"
	"fuelwatch/internal/feed"
	"fuelwatch/internal/ingest"
	"fuelwatch/internal/storage"
)

func (a *App) runIngestionPass(ctx context.Context, store *storage.Store, svc *ingest.Service, fetcher *feed.Fetcher) error {
	return a.withAdvisoryLock(ctx, store, a.Config.Scheduler.IngestLockKey, func(ctx context.Context) error {
		startedAt := time.Now().UTC()

		payload, err := fetcher.Fetch(ctx)
		if err != nil {
			svc.RecordRejection(startedAt, fmt.Errorf("fetch feed: %w", err))
			return fmt.Errorf("fetch feed: %w", err)
		}

		records, err := feed.ParseBatch(bytes.NewReader(payload))
		if err != nil {
			svc.RecordRejection(startedAt, err)
			return err
		}

		_, err = svc.Run(ctx, records)
		return err
	})
}

func (a *App) runAlertPass(ctx context.Context, store *storage.Store, evaluator *alerting.Evaluator) error {
	return a.withAdvisoryLock(ctx, store, a.Config.Scheduler.AlertLockKey, func(ctx context.Context) error {
		_, err := evaluator.Run(ctx)
		return err
	})
}

// Ingest runs one ingestion pass from a local file or the configured feed
// URL and prints nothing; the outcome lands in the run log.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newIngest(store)

	if opts.FilePath != "" {
		startedAt := time.Now().UTC()

		payload, err := os.ReadFile(opts.FilePath)
		if err != nil {
			return fmt.Errorf("read batch file: %w", err)
		}

		return a.withAdvisoryLock(ctx, store, a.Config.Scheduler.IngestLockKey, func(ctx context.Context) error {
			records, err := feed.ParseBatch(bytes.NewReader(payload))
			if err != nil {
				svc.RecordRejection(startedAt, err)
				return err
			}
			run, err := svc.Run(ctx, records)
			if err != nil {
				return err
			}
			a.Logger.Info().Str("run_id", run.ID.String()).Str("status", string(run.Status)).Msg("ingestion finished")
			return nil
		})
	}

	return a.runIngestionPass(ctx, store, svc, a.newFeedFetcher())
}

// Evaluate runs one alert pass.
func (a *App) Evaluate(ctx context.Context, _ EvaluateOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	return a.runAlertPass(ctx, store, a.newEvaluator(store))
}
