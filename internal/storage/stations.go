package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fuelwatch/internal/domain"
)

const (
	getStationSQL = `SELECT
        id, name, brand, address, postcode, latitude, longitude,
        amenities, opening_hours, updated_at_source, created_at, updated_at
    FROM stations
    WHERE id = $1;`

	listPricedStationsSQL = `SELECT
        s.id, s.name, s.brand, s.address, s.postcode, s.latitude, s.longitude,
        s.amenities, s.opening_hours, s.updated_at_source, s.created_at, s.updated_at,
        p.price_ppl, p.source_ts
    FROM stations s
    JOIN price_snapshots p ON p.station_id = s.id
    WHERE p.fuel = $1
      AND p.price_ppl IS NOT NULL;`

	upsertStationSQL = `INSERT INTO stations (
        id, name, brand, address, postcode, latitude, longitude,
        amenities, opening_hours, updated_at_source
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (id) DO UPDATE
    SET
        name              = EXCLUDED.name,
        brand             = EXCLUDED.brand,
        address           = EXCLUDED.address,
        postcode          = EXCLUDED.postcode,
        latitude          = EXCLUDED.latitude,
        longitude         = EXCLUDED.longitude,
        amenities         = EXCLUDED.amenities,
        opening_hours     = EXCLUDED.opening_hours,
        updated_at_source = EXCLUDED.updated_at_source,
        updated_at        = now();`
)

// GetStation fetches one station by identifier, nil when unknown.
func (s *Store) GetStation(ctx context.Context, id string) (*domain.Station, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getStationSQL, id)
	station, scanErr := scanStation(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get station: %w", scanErr)
	}
	return &station, nil
}

// ListPricedStations returns every station with a non-null current price
// for the given fuel, joined with that price and its source timestamp.
func (s *Store) ListPricedStations(ctx context.Context, fuel domain.FuelType) ([]domain.PricedStation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricedStationsSQL, string(fuel))
	if queryErr != nil {
		return nil, fmt.Errorf("list priced stations: %w", queryErr)
	}
	defer rows.Close()

	stations := make([]domain.PricedStation, 0)
	for rows.Next() {
		var (
			station  domain.Station
			amen     []byte
			hours    []byte
			pricePpl int64
			sourceTS time.Time
		)
		if err := rows.Scan(
			&station.ID,
			&station.Name,
			&station.Brand,
			&station.Address,
			&station.Postcode,
			&station.Latitude,
			&station.Longitude,
			&amen,
			&hours,
			&station.UpdatedAtSource,
			&station.CreatedAt,
			&station.UpdatedAt,
			&pricePpl,
			&sourceTS,
		); err != nil {
			return nil, err
		}
		station.Amenities = decodeBlob(amen)
		station.OpeningHours = decodeBlob(hours)
		stations = append(stations, domain.PricedStation{
			Station:  station,
			PricePpl: pricePpl,
			SourceTS: sourceTS,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return stations, nil
}

func scanStation(row pgx.Row) (domain.Station, error) {
	var (
		station domain.Station
		amen    []byte
		hours   []byte
	)
	if err := row.Scan(
		&station.ID,
		&station.Name,
		&station.Brand,
		&station.Address,
		&station.Postcode,
		&station.Latitude,
		&station.Longitude,
		&amen,
		&hours,
		&station.UpdatedAtSource,
		&station.CreatedAt,
		&station.UpdatedAt,
	); err != nil {
		return domain.Station{}, err
	}
	station.Amenities = decodeBlob(amen)
	station.OpeningHours = decodeBlob(hours)
	return station, nil
}

func encodeBlob(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func decodeBlob(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
