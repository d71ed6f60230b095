// Package geocode resolves free-text postal codes to coordinates with a
// persistent write-through cache in front of the external geocoder.
package geocode

import (
	"context"
	"errors"
	"strings"
)

// Coordinates is a resolved point.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Resolver turns a postal code into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, postcode string) (Coordinates, error)
}

// ErrNotResolvable marks a postcode the upstream geocoder cannot place.
// Failures are never cached.
var ErrNotResolvable = errors.New("geocode: location not resolvable")

// Normalize folds case and collapses whitespace so equivalent postcodes
// share one cache entry ("sw1a 1aa" and "SW1A1AA" both become "SW1A1AA").
func Normalize(postcode string) string {
	return strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
}
