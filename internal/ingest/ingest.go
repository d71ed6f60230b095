// Package ingest runs the reconciliation pass: validated feed records are
// merged into persistent station and price state, per-record failures are
// isolated, and the pass is audited as a single run.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/storage"
)

// Service executes ingestion passes.
type Service struct {
	recon   storage.RecordReconciler
	runs    storage.RunStore
	workers int
	logger  zerolog.Logger
}

// New constructs the ingestion service.
func New(recon storage.RecordReconciler, runs storage.RunStore, workers int, logger zerolog.Logger) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		recon:   recon,
		runs:    runs,
		workers: workers,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Run reconciles a validated batch and records the pass. Records are
// parallelised across stations; records for the same station stay in
// input order on a single worker so snapshot writes for one station never
// race each other. Each record commits in its own transaction, so a
// failure mid-batch loses nothing already written.
func (s *Service) Run(ctx context.Context, records []domain.StationRecord) (domain.Run, error) {
	startedAt := time.Now().UTC()

	var (
		mu            sync.Mutex
		succeeded     int
		failed        int
		pricesUpdated int
		errs          []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, batch := range groupByStation(records) {
		group.Go(func() error {
			for _, rec := range batch {
				if err := groupCtx.Err(); err != nil {
					return err
				}

				outcome, err := s.recon.ReconcileRecord(groupCtx, rec)

				mu.Lock()
				if err != nil {
					failed++
					errs = append(errs, fmt.Sprintf("station %s: %v", rec.ID, err))
				} else {
					succeeded++
					pricesUpdated += outcome.PricesUpdated
				}
				mu.Unlock()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		// Context cancellation is systemic: the pass did not finish.
		run := s.buildRun(startedAt, domain.RunFailed, succeeded, failed, pricesUpdated, len(records),
			append(errs, fmt.Sprintf("pass aborted: %v", err)))
		s.record(run)
		return run, err
	}

	status := domain.ClassifyStatus(succeeded, len(errs))
	run := s.buildRun(startedAt, status, succeeded, failed, pricesUpdated, len(records), errs)
	s.record(run)

	s.logger.Info().
		Str("status", string(run.Status)).
		Int("stations", succeeded).
		Int("prices_updated", pricesUpdated).
		Int("errors", len(errs)).
		Msg("ingestion pass finished")

	return run, nil
}

// RecordRejection audits a batch that was rejected before any write, for
// example a validation failure.
func (s *Service) RecordRejection(startedAt time.Time, cause error) domain.Run {
	run := s.buildRun(startedAt, domain.RunFailed, 0, 0, 0, 0, []string{cause.Error()})
	s.record(run)
	return run
}

func (s *Service) buildRun(startedAt time.Time, status domain.RunStatus, succeeded, failed, pricesUpdated, total int, errs []string) domain.Run {
	return domain.Run{
		ID:         uuid.New(),
		Kind:       domain.RunIngestion,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Counters: map[string]int{
			"records_received":   total,
			"stations_processed": succeeded,
			"prices_updated":     pricesUpdated,
			"records_failed":     failed,
			// Records an aborted pass never reached; zero when it ran to
			// completion.
			"records_unprocessed": total - succeeded - failed,
		},
		Errors: errs,
	}
}

func (s *Service) record(run domain.Run) {
	if s.runs == nil {
		return
	}
	// The audit write must not mask the pass outcome; use a fresh context
	// so a cancelled pass still gets its run row.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.runs.InsertRun(ctx, run); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record run")
	}
}

// groupByStation buckets records per station, preserving both the overall
// station order of first appearance and the record order within a station.
func groupByStation(records []domain.StationRecord) [][]domain.StationRecord {
	index := make(map[string]int, len(records))
	groups := make([][]domain.StationRecord, 0, len(records))
	for _, rec := range records {
		i, ok := index[rec.ID]
		if !ok {
			i = len(groups)
			index[rec.ID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	return groups
}
