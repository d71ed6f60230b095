package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/geocode"
	"fuelwatch/internal/storage"
)

// Query locates stations around an origin. Exactly one of Postcode or the
// coordinate pair should be set; coordinates win when both are present.
type Query struct {
	Postcode    string
	Latitude    *float64
	Longitude   *float64
	RadiusMiles float64
	Fuel        domain.FuelType
}

// Result is one ranked station with its current price.
type Result struct {
	Station       domain.Station
	PricePpl      int64
	DistanceMiles float64
	SourceTS      time.Time
}

// ErrNoOrigin reports a query with neither postcode nor coordinates.
var ErrNoOrigin = errors.New("search: query needs a postcode or coordinates")

// Service answers radius-bounded cheapest-station queries.
type Service struct {
	stations storage.StationStore
	resolver geocode.Resolver
	logger   zerolog.Logger
}

// New constructs the search service.
func New(stations storage.StationStore, resolver geocode.Resolver, logger zerolog.Logger) *Service {
	return &Service{
		stations: stations,
		resolver: resolver,
		logger:   logger.With().Str("component", "search").Logger(),
	}
}

// Search resolves the origin, filters stations reporting the requested
// fuel to those within the radius, and ranks them by price ascending with
// distance breaking ties.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.RadiusMiles <= 0 {
		return nil, fmt.Errorf("search: radius must be positive, got %v", q.RadiusMiles)
	}

	origin, err := s.resolveOrigin(ctx, q)
	if err != nil {
		return nil, err
	}

	priced, err := s.stations.ListPricedStations(ctx, q.Fuel)
	if err != nil {
		return nil, fmt.Errorf("search: list stations: %w", err)
	}

	results := make([]Result, 0, len(priced))
	for _, ps := range priced {
		dist := DistanceMiles(origin.Latitude, origin.Longitude, ps.Station.Latitude, ps.Station.Longitude)
		if dist > q.RadiusMiles {
			continue
		}
		results = append(results, Result{
			Station:       ps.Station,
			PricePpl:      ps.PricePpl,
			DistanceMiles: dist,
			SourceTS:      ps.SourceTS,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].PricePpl != results[j].PricePpl {
			return results[i].PricePpl < results[j].PricePpl
		}
		return results[i].DistanceMiles < results[j].DistanceMiles
	})

	return results, nil
}

func (s *Service) resolveOrigin(ctx context.Context, q Query) (geocode.Coordinates, error) {
	if q.Latitude != nil && q.Longitude != nil {
		return geocode.Coordinates{Latitude: *q.Latitude, Longitude: *q.Longitude}, nil
	}
	if q.Postcode == "" {
		return geocode.Coordinates{}, ErrNoOrigin
	}
	return s.resolver.Resolve(ctx, q.Postcode)
}
