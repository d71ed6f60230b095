package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"fuelwatch/internal/httpapi"
	"fuelwatch/internal/scheduler"
)

// Serve runs the HTTP API alongside the two scheduled passes until
// interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	searchSvc := a.newSearch(store)
	ingestSvc := a.newIngest(store)
	evaluator := a.newEvaluator(store)
	fetcher := a.newFeedFetcher()

	server := httpapi.NewServer(
		a.Logger,
		searchSvc,
		ingestSvc,
		store,
		store,
		store,
		store,
		a.Config.Server.IngestToken,
	)

	httpServer := &http.Server{
		Addr:    a.Config.Server.ListenAddr,
		Handler: server.Router(),
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if a.Config.Feed.URL != "" {
		ingestSched := scheduler.New(scheduler.Options{
			Name:         "ingestion",
			Interval:     a.Config.Scheduler.IngestInterval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		group.Go(func() error {
			err := ingestSched.Run(groupCtx, func(ctx context.Context, _ time.Time) error {
				return a.runIngestionPass(ctx, store, ingestSvc, fetcher)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		a.Logger.Warn().Msg("feed.url not configured; scheduled ingestion disabled")
	}

	if a.Config.Alerting.Enabled {
		alertSched := scheduler.New(scheduler.Options{
			Name:         "alert",
			Interval:     a.Config.Scheduler.AlertInterval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)

		group.Go(func() error {
			err := alertSched.Run(groupCtx, func(ctx context.Context, _ time.Time) error {
				return a.runAlertPass(ctx, store, evaluator)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		a.Logger.Warn().Msg("alerting disabled; alert pass not scheduled")
	}

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}
