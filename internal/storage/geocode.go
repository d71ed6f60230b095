package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fuelwatch/internal/domain"
)

const (
	// A cache hit refreshes last_used_at in the same statement.
	lookupGeocodeSQL = `UPDATE geocode_cache
    SET last_used_at = now()
    WHERE postcode = $1
    RETURNING postcode, latitude, longitude, last_used_at, created_at;`

	saveGeocodeSQL = `INSERT INTO geocode_cache (
        postcode, latitude, longitude, last_used_at
    ) VALUES ($1,$2,$3,$4)
    ON CONFLICT (postcode) DO UPDATE
    SET latitude     = EXCLUDED.latitude,
        longitude    = EXCLUDED.longitude,
        last_used_at = EXCLUDED.last_used_at;`
)

// LookupGeocode returns the cached entry for a normalised postcode,
// refreshing its last_used_at, or nil on a miss.
func (s *Store) LookupGeocode(ctx context.Context, postcode string) (*domain.GeocodeCacheEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var entry domain.GeocodeCacheEntry
	err = pool.QueryRow(ctx, lookupGeocodeSQL, postcode).Scan(
		&entry.Postcode,
		&entry.Latitude,
		&entry.Longitude,
		&entry.LastUsedAt,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup geocode: %w", err)
	}
	return &entry, nil
}

// SaveGeocode persists a successful upstream resolution.
func (s *Store) SaveGeocode(ctx context.Context, entry domain.GeocodeCacheEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, execErr := pool.Exec(ctx, saveGeocodeSQL,
		entry.Postcode,
		entry.Latitude,
		entry.Longitude,
		entry.LastUsedAt,
	); execErr != nil {
		return fmt.Errorf("save geocode: %w", execErr)
	}
	return nil
}
