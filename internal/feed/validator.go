package feed

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatch/internal/domain"
)

// The feed is tab-separated with this fixed header. Optional trailing
// blobs are JSON objects; everything else is scalar text.
var expectedHeader = []string{
	"station_id", "name", "brand", "address", "postcode",
	"latitude", "longitude", "petrol_price", "diesel_price",
	"updated_at", "amenities", "opening_hours",
}

// ErrNoRows reports a batch with a header but no data rows.
var ErrNoRows = errors.New("feed: batch contains no data rows")

// FieldCountError reports a row whose field count does not match the
// header. The whole batch is rejected.
type FieldCountError struct {
	Line int
	Got  int
	Want int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("feed: line %d has %d fields, header has %d", e.Line, e.Got, e.Want)
}

// RowError is one field-level violation found during validation.
type RowError struct {
	Line int
	Msg  string
}

func (e RowError) String() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// ValidationError aggregates every row violation in a rejected batch.
type ValidationError struct {
	Rows []RowError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Rows))
	for _, row := range e.Rows {
		parts = append(parts, row.String())
	}
	return fmt.Sprintf("feed: %d invalid rows: %s", len(e.Rows), strings.Join(parts, "; "))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseBatch reads a raw tab-separated batch, validates every row, and
// returns the normalised records in input order. Validation is atomic: a
// single bad row rejects the whole batch and nothing is returned.
func ParseBatch(r io.Reader) ([]domain.StationRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	// Field counts are checked by hand so the mismatch error can carry
	// the actual counts. Blank lines are still skipped by the reader.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("feed: read header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, err
	}

	var (
		records []domain.StationRecord
		rowErrs []RowError
	)

	for {
		fields, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("feed: read batch: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if len(fields) != len(expectedHeader) {
			return nil, &FieldCountError{Line: line, Got: len(fields), Want: len(expectedHeader)}
		}

		rec, errs := validateRow(line, fields)
		if len(errs) > 0 {
			rowErrs = append(rowErrs, errs...)
			continue
		}
		records = append(records, rec)
	}

	if len(rowErrs) > 0 {
		return nil, &ValidationError{Rows: rowErrs}
	}
	if len(records) == 0 {
		return nil, ErrNoRows
	}
	return records, nil
}

func checkHeader(header []string) error {
	if len(header) != len(expectedHeader) {
		return &FieldCountError{Line: 1, Got: len(header), Want: len(expectedHeader)}
	}
	for i, want := range expectedHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("feed: header column %d is %q, want %q", i+1, header[i], want)
		}
	}
	return nil
}

func validateRow(line int, fields []string) (domain.StationRecord, []RowError) {
	var errs []RowError
	fail := func(format string, args ...any) {
		errs = append(errs, RowError{Line: line, Msg: fmt.Sprintf(format, args...)})
	}

	rec := domain.StationRecord{
		ID:       strings.TrimSpace(fields[0]),
		Name:     strings.TrimSpace(fields[1]),
		Brand:    strings.TrimSpace(fields[2]),
		Address:  strings.TrimSpace(fields[3]),
		Postcode: strings.TrimSpace(fields[4]),
	}

	if rec.ID == "" {
		fail("station identifier is empty")
	}

	lat, err := parseCoordinate(fields[5], -90, 90)
	if err != nil {
		fail("latitude: %v", err)
	}
	rec.Latitude = lat

	lng, err := parseCoordinate(fields[6], -180, 180)
	if err != nil {
		fail("longitude: %v", err)
	}
	rec.Longitude = lng

	petrol, err := parsePrice(fields[7])
	if err != nil {
		fail("petrol price: %v", err)
	}
	rec.PetrolPpl = petrol

	diesel, err := parsePrice(fields[8])
	if err != nil {
		fail("diesel price: %v", err)
	}
	rec.DieselPpl = diesel

	ts, err := parseTimestamp(fields[9])
	if err != nil {
		fail("updated_at: %v", err)
	}
	rec.UpdatedAt = ts

	// Metadata blobs degrade to absent on parse failure; they never
	// invalidate the row.
	rec.Amenities = parseBlob(fields[10])
	rec.OpeningHours = parseBlob(fields[11])

	if len(errs) > 0 {
		return domain.StationRecord{}, errs
	}
	return rec, nil
}

func parseCoordinate(raw string, min, max float64) (float64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	f := value.InexactFloat64()
	if f < min || f > max {
		return 0, fmt.Errorf("%s outside [%v, %v]", value.String(), min, max)
	}
	return f, nil
}

// parsePrice normalises a feed price to integer pence per litre. The
// literal "null" and the empty string mean the station does not report
// this fuel. Decimal pence are rounded half-up.
func parsePrice(raw string) (*int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil, nil
	}

	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", raw)
	}
	if value.IsNegative() {
		return nil, fmt.Errorf("%s is negative", value.String())
	}

	ppl := value.Round(0).IntPart()
	return &ppl, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a valid timestamp", raw)
}

func parseBlob(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "null") {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(trimmed), &m); err != nil {
		return nil
	}
	return m
}
