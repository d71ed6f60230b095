package domain

import (
	"time"

	"github.com/google/uuid"
)

// Station is a fuel station as last seen in the source feed.
type Station struct {
	ID              string
	Name            string
	Brand           string
	Address         string
	Postcode        string
	Latitude        float64
	Longitude       float64
	Amenities       map[string]any
	OpeningHours    map[string]any
	UpdatedAtSource time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StationRecord is one validated feed row, prices already normalised to
// integer pence per litre. A nil price means the feed reported no price
// for that fuel.
type StationRecord struct {
	ID           string
	Name         string
	Brand        string
	Address      string
	Postcode     string
	Latitude     float64
	Longitude    float64
	PetrolPpl    *int64
	DieselPpl    *int64
	UpdatedAt    time.Time
	Amenities    map[string]any
	OpeningHours map[string]any
}

// Price returns the record's price for the given fuel.
func (r StationRecord) Price(fuel FuelType) *int64 {
	if fuel == FuelDiesel {
		return r.DieselPpl
	}
	return r.PetrolPpl
}

// Station converts the record into its station identity fields.
func (r StationRecord) Station() Station {
	return Station{
		ID:              r.ID,
		Name:            r.Name,
		Brand:           r.Brand,
		Address:         r.Address,
		Postcode:        r.Postcode,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		Amenities:       r.Amenities,
		OpeningHours:    r.OpeningHours,
		UpdatedAtSource: r.UpdatedAt,
	}
}

// PricedStation pairs a station with its current price for one fuel.
// Only stations actually reporting that fuel appear in these listings.
type PricedStation struct {
	Station  Station
	PricePpl int64
	SourceTS time.Time
}

// PriceSnapshot holds the current price for one (station, fuel) pair.
// PricePpl is nil when the station stopped reporting that fuel.
type PriceSnapshot struct {
	StationID string
	Fuel      FuelType
	PricePpl  *int64
	SourceTS  time.Time
	UpdatedAt time.Time
}

// PriceHistoryEntry is one append-only observation of a price change.
type PriceHistoryEntry struct {
	ID         int64
	StationID  string
	Fuel       FuelType
	PricePpl   *int64
	ObservedAt time.Time
	RecordedAt time.Time
}

// GeocodeCacheEntry maps a normalised postcode to coordinates.
type GeocodeCacheEntry struct {
	Postcode   string
	Latitude   float64
	Longitude  float64
	LastUsedAt time.Time
	CreatedAt  time.Time
}

// AlertRule is a user's price-drop subscription. Either Postcode or the
// coordinate pair locates the search area; coordinates win when both are
// set. NotifiedAt carries the rolling-window dispatch timestamps used for
// throttling, trimmed on every write.
type AlertRule struct {
	ID           uuid.UUID
	UserID       string
	Postcode     string
	Latitude     *float64
	Longitude    *float64
	RadiusMiles  float64
	Fuel         FuelType
	ThresholdPpl int64
	Enabled      bool

	BaselinePpl     *int64
	LastNotifiedPpl *int64
	LastTriggeredAt *time.Time
	NotifiedAt      []time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCoordinates reports whether the rule carries an explicit origin.
func (r AlertRule) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// ReferencePpl is the price a new drop is measured against: the last
// notified price, falling back to the baseline captured when the rule
// first saw a market. Nil means no reference exists yet.
func (r AlertRule) ReferencePpl() *int64 {
	if r.LastNotifiedPpl != nil {
		return r.LastNotifiedPpl
	}
	return r.BaselinePpl
}
