package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fuelwatch/internal/config"
	"fuelwatch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// StationStore defines read access to station state.
type StationStore interface {
	GetStation(ctx context.Context, id string) (*domain.Station, error)
	ListPricedStations(ctx context.Context, fuel domain.FuelType) ([]domain.PricedStation, error)
}

// PriceStore exposes snapshot and history reads.
type PriceStore interface {
	GetSnapshot(ctx context.Context, stationID string, fuel domain.FuelType) (*domain.PriceSnapshot, error)
	ListHistory(ctx context.Context, stationID string, fuel domain.FuelType, from, to time.Time) ([]domain.PriceHistoryEntry, error)
}

// RecordReconciler merges one validated feed record into persistent state
// within a single transaction.
type RecordReconciler interface {
	ReconcileRecord(ctx context.Context, rec domain.StationRecord) (ReconcileOutcome, error)
}

// GeocodeStore backs the postcode resolution cache.
type GeocodeStore interface {
	LookupGeocode(ctx context.Context, postcode string) (*domain.GeocodeCacheEntry, error)
	SaveGeocode(ctx context.Context, entry domain.GeocodeCacheEntry) error
}

// AlertRuleStore defines alert rule persistence and trigger-state updates.
type AlertRuleStore interface {
	CreateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error)
	UpdateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error)
	DeleteAlertRule(ctx context.Context, id string) error
	GetAlertRule(ctx context.Context, id string) (*domain.AlertRule, error)
	ListAlertRulesByUser(ctx context.Context, userID string) ([]domain.AlertRule, error)
	ListEnabledAlertRules(ctx context.Context) ([]domain.AlertRule, error)
	SetAlertBaseline(ctx context.Context, id string, pricePpl int64) error
	MarkAlertNotified(ctx context.Context, id string, pricePpl int64, at time.Time, window []time.Time, expected *int64) (bool, error)
	MarkAlertSuppressed(ctx context.Context, id string, pricePpl int64, expected *int64) (bool, error)
}

// RunStore records and queries pass audit rows.
type RunStore interface {
	InsertRun(ctx context.Context, run domain.Run) error
	ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates all persistence concerns on one pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}
