package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"fuelwatch/internal/domain"
)

const (
	insertRunSQL = `INSERT INTO runs (
        id, kind, status, started_at, finished_at, counters, errors
    ) VALUES ($1,$2,$3,$4,$5,$6,$7);`

	listRecentRunsSQL = `SELECT id, kind, status, started_at, finished_at, counters, errors
    FROM runs
    ORDER BY started_at DESC
    LIMIT $1;`
)

// InsertRun appends one immutable pass audit row.
func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("encode run counters: %w", err)
	}

	// A nil slice would encode as SQL NULL; the column is NOT NULL.
	if run.Errors == nil {
		run.Errors = []string{}
	}

	if _, execErr := pool.Exec(ctx, insertRunSQL,
		run.ID,
		string(run.Kind),
		string(run.Status),
		run.StartedAt,
		run.FinishedAt,
		counters,
		run.Errors,
	); execErr != nil {
		return fmt.Errorf("insert run: %w", execErr)
	}
	return nil
}

// ListRecentRuns lists the most recent passes, newest first.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0, limit)
	for rows.Next() {
		var (
			run      domain.Run
			kind     string
			status   string
			counters []byte
		)
		if err := rows.Scan(
			&run.ID,
			&kind,
			&status,
			&run.StartedAt,
			&run.FinishedAt,
			&counters,
			&run.Errors,
		); err != nil {
			return nil, err
		}
		run.Kind = domain.RunKind(kind)
		run.Status = domain.RunStatus(status)
		if len(counters) > 0 {
			if err := json.Unmarshal(counters, &run.Counters); err != nil {
				return nil, fmt.Errorf("decode run counters: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}
