package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fuelwatch/internal/domain"
)

const (
	lockSnapshotSQL = `SELECT price_ppl, source_ts
    FROM price_snapshots
    WHERE station_id = $1 AND fuel = $2
    FOR UPDATE;`

	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        station_id, fuel, price_ppl, source_ts
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (station_id, fuel) DO UPDATE
    SET price_ppl  = EXCLUDED.price_ppl,
        source_ts  = EXCLUDED.source_ts,
        updated_at = now();`

	insertHistorySQL = `INSERT INTO price_history (
        station_id, fuel, price_ppl, observed_at
    ) VALUES ($1,$2,$3,$4);`

	getSnapshotSQL = `SELECT station_id, fuel, price_ppl, source_ts, updated_at
    FROM price_snapshots
    WHERE station_id = $1 AND fuel = $2;`

	listHistorySQL = `SELECT id, station_id, fuel, price_ppl, observed_at, recorded_at
    FROM price_history
    WHERE station_id = $1
      AND fuel = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`
)

// ReconcileOutcome summarises one record's reconciliation.
type ReconcileOutcome struct {
	PricesUpdated int
}

// ReconcileRecord upserts the station and, for each fuel whose incoming
// price differs from the current snapshot (absence included), writes a new
// snapshot and appends a history entry. Everything happens in a single
// transaction so the snapshot/history invariant holds; the snapshot row is
// locked first, serialising concurrent writers on the same pair.
func (s *Store) ReconcileRecord(ctx context.Context, rec domain.StationRecord) (ReconcileOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return ReconcileOutcome{}, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	amen, err := encodeBlob(rec.Amenities)
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("encode amenities: %w", err)
	}
	hours, err := encodeBlob(rec.OpeningHours)
	if err != nil {
		return ReconcileOutcome{}, fmt.Errorf("encode opening hours: %w", err)
	}

	if _, err := tx.Exec(ctx, upsertStationSQL,
		rec.ID,
		rec.Name,
		rec.Brand,
		rec.Address,
		rec.Postcode,
		rec.Latitude,
		rec.Longitude,
		amen,
		hours,
		rec.UpdatedAt,
	); err != nil {
		return ReconcileOutcome{}, fmt.Errorf("upsert station %s: %w", rec.ID, err)
	}

	outcome := ReconcileOutcome{}
	for _, fuel := range domain.FuelTypes {
		changed, err := reconcileFuel(ctx, tx, rec.ID, fuel, rec.Price(fuel), rec.UpdatedAt)
		if err != nil {
			return ReconcileOutcome{}, err
		}
		if changed {
			outcome.PricesUpdated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return ReconcileOutcome{}, fmt.Errorf("commit reconcile tx: %w", err)
	}
	return outcome, nil
}

func reconcileFuel(ctx context.Context, tx pgx.Tx, stationID string, fuel domain.FuelType, price *int64, observedAt time.Time) (bool, error) {
	var current *int64
	var sourceTS time.Time
	exists := true

	err := tx.QueryRow(ctx, lockSnapshotSQL, stationID, string(fuel)).Scan(&current, &sourceTS)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("lock snapshot %s/%s: %w", stationID, fuel, err)
		}
		exists = false
	}

	if !snapshotChanged(exists, current, price) {
		return false, nil
	}

	if _, err := tx.Exec(ctx, upsertSnapshotSQL, stationID, string(fuel), price, observedAt); err != nil {
		return false, fmt.Errorf("upsert snapshot %s/%s: %w", stationID, fuel, err)
	}
	if _, err := tx.Exec(ctx, insertHistorySQL, stationID, string(fuel), price, observedAt); err != nil {
		return false, fmt.Errorf("append history %s/%s: %w", stationID, fuel, err)
	}
	return true, nil
}

// snapshotChanged decides whether an incoming price must produce a new
// snapshot and history entry. A missing snapshot row always counts as a
// change, as does any transition to or from an absent price.
func snapshotChanged(exists bool, current, incoming *int64) bool {
	if !exists {
		return true
	}
	return !priceEqual(current, incoming)
}

func priceEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// GetSnapshot fetches the current snapshot for one pair, nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, stationID string, fuel domain.FuelType) (*domain.PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var snap domain.PriceSnapshot
	var fuelStr string
	err = pool.QueryRow(ctx, getSnapshotSQL, stationID, string(fuel)).Scan(
		&snap.StationID,
		&fuelStr,
		&snap.PricePpl,
		&snap.SourceTS,
		&snap.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Fuel = domain.FuelType(fuelStr)
	return &snap, nil
}

// ListHistory returns price history for one pair within a window.
func (s *Store) ListHistory(ctx context.Context, stationID string, fuel domain.FuelType, from, to time.Time) ([]domain.PriceHistoryEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, stationID, string(fuel), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]domain.PriceHistoryEntry, 0)
	for rows.Next() {
		var entry domain.PriceHistoryEntry
		var fuelStr string
		if err := rows.Scan(
			&entry.ID,
			&entry.StationID,
			&fuelStr,
			&entry.PricePpl,
			&entry.ObservedAt,
			&entry.RecordedAt,
		); err != nil {
			return nil, err
		}
		entry.Fuel = domain.FuelType(fuelStr)
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
