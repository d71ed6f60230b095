package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/storage"
)

// CachingResolver fronts the upstream geocoder with the persistent cache.
// Hits refresh last_used_at and skip the upstream call entirely; misses
// resolve upstream and write through on success only.
type CachingResolver struct {
	store    storage.GeocodeStore
	upstream Resolver
	logger   zerolog.Logger
}

// NewCachingResolver wires the cache store in front of an upstream resolver.
func NewCachingResolver(store storage.GeocodeStore, upstream Resolver, logger zerolog.Logger) *CachingResolver {
	return &CachingResolver{
		store:    store,
		upstream: upstream,
		logger:   logger.With().Str("component", "geocode_cache").Logger(),
	}
}

// Resolve normalises the postcode, consults the cache, and falls back to
// the upstream geocoder on a miss.
func (r *CachingResolver) Resolve(ctx context.Context, postcode string) (Coordinates, error) {
	normalized := Normalize(postcode)
	if normalized == "" {
		return Coordinates{}, fmt.Errorf("%w: empty postcode", ErrNotResolvable)
	}

	entry, err := r.store.LookupGeocode(ctx, normalized)
	if err != nil {
		return Coordinates{}, fmt.Errorf("geocode cache lookup: %w", err)
	}
	if entry != nil {
		return Coordinates{Latitude: entry.Latitude, Longitude: entry.Longitude}, nil
	}

	coords, err := r.upstream.Resolve(ctx, normalized)
	if err != nil {
		return Coordinates{}, err
	}

	if err := r.store.SaveGeocode(ctx, domain.GeocodeCacheEntry{
		Postcode:   normalized,
		Latitude:   coords.Latitude,
		Longitude:  coords.Longitude,
		LastUsedAt: time.Now().UTC(),
	}); err != nil {
		// A failed cache write must not fail the resolution.
		r.logger.Warn().Err(err).Str("postcode", normalized).Msg("failed to cache geocode result")
	}

	return coords, nil
}

var _ Resolver = (*CachingResolver)(nil)
