package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/alerting"
	"fuelwatch/internal/config"
	"fuelwatch/internal/feed"
	"fuelwatch/internal/geocode"
	"fuelwatch/internal/ingest"
	"fuelwatch/internal/search"
	"fuelwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newFeedFetcher() *feed.Fetcher {
	return feed.NewFetcher(feed.FetcherOptions{
		URL:       a.Config.Feed.URL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newResolver(store *storage.Store) geocode.Resolver {
	client := geocode.NewClient(geocode.ClientOptions{
		BaseURL:   a.Config.Geocoding.BaseURL,
		Timeout:   a.Config.Geocoding.RequestTimeout,
		UserAgent: a.Config.Geocoding.UserAgent,
	}, a.Logger)
	return geocode.NewCachingResolver(store, client, a.Logger)
}

func (a *App) newSearch(store *storage.Store) *search.Service {
	return search.New(store, a.newResolver(store), a.Logger)
}

func (a *App) newIngest(store *storage.Store) *ingest.Service {
	return ingest.New(store, store, a.Config.Feed.Workers, a.Logger)
}

func (a *App) newEvaluator(store *storage.Store) *alerting.Evaluator {
	dispatcher := alerting.NewPushClient(
		a.Config.Push.BaseURL,
		a.Config.Push.APIKey,
		a.Config.Push.RequestTimeout,
		a.Logger,
	)
	return alerting.New(store, store, a.newSearch(store), dispatcher, alerting.Options{
		Workers:      a.Config.Alerting.Workers,
		MaxPerWindow: a.Config.Alerting.MaxPerWindow,
		Window:       a.Config.Alerting.ThrottleWindow,
	}, a.Logger)
}

// withAdvisoryLock runs fn under a postgres advisory lock so a pass never
// overlaps itself across processes. A held lock means another instance is
// mid-pass: skip, don't queue.
func (a *App) withAdvisoryLock(ctx context.Context, store *storage.Store, key int64, fn func(context.Context) error) error {
	if key == 0 {
		return fn(ctx)
	}

	unlock, acquired, err := store.TryAdvisoryLock(ctx, key)
	if err != nil {
		return err
	}
	if !acquired {
		a.Logger.Debug().Int64("key", key).Msg("skip pass: advisory lock held elsewhere")
		return nil
	}
	defer unlock()

	return fn(ctx)
}

// IngestOptions configure a one-shot ingestion pass.
type IngestOptions struct {
	FilePath string
}

// EvaluateOptions configure a one-shot alert pass.
type EvaluateOptions struct{}

// RunsOptions configure the runs listing.
type RunsOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	StationID string
	Fuel      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
