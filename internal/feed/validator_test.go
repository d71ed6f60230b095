package feed

import (
	"errors"
	"strings"
	"testing"
)

const testHeader = "station_id\tname\tbrand\taddress\tpostcode\tlatitude\tlongitude\tpetrol_price\tdiesel_price\tupdated_at\tamenities\topening_hours"

func batchOf(rows ...string) string {
	return testHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

func row(fields ...string) string {
	return strings.Join(fields, "\t")
}

func TestParseBatchValid(t *testing.T) {
	input := batchOf(
		row("st-1", "Alpha", "BrandCo", "1 High St", "SW1A 1AA", "51.5010", "-0.1246", "149.9", "154.4", "2026-08-30T06:00:00Z", `{"shop":true}`, `{"mon":"06:00-22:00"}`),
		row("st-2", "Beta", "", "", "", "51.5100", "-0.1300", "145", "null", "2026-08-30 06:00:00", "", ""),
	)

	records, err := ParseBatch(strings.NewReader(input))
	if err != nil {
		t.Fatalf("valid batch should parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.ID != "st-1" {
		t.Fatalf("unexpected station id %q", first.ID)
	}
	if first.PetrolPpl == nil || *first.PetrolPpl != 150 {
		t.Fatalf("149.9 should round to 150 pence, got %v", first.PetrolPpl)
	}
	if first.DieselPpl == nil || *first.DieselPpl != 154 {
		t.Fatalf("154.4 should round to 154 pence, got %v", first.DieselPpl)
	}
	if first.Amenities["shop"] != true {
		t.Fatalf("amenities blob not decoded: %#v", first.Amenities)
	}

	second := records[1]
	if second.DieselPpl != nil {
		t.Fatalf("literal null diesel price should be absent, got %v", *second.DieselPpl)
	}
	if second.UpdatedAt.IsZero() {
		t.Fatal("fallback timestamp layout should parse")
	}
}

func TestParseBatchFieldCount(t *testing.T) {
	input := batchOf(
		row("st-1", "Alpha", "BrandCo", "1 High St", "SW1A 1AA", "51.5", "-0.12", "149.9", "154.4", "2026-08-30T06:00:00Z", "", ""),
		row("st-2", "Beta", "short"),
	)

	_, err := ParseBatch(strings.NewReader(input))
	var fce *FieldCountError
	if !errors.As(err, &fce) {
		t.Fatalf("expected FieldCountError, got %v", err)
	}
	if fce.Got != 3 || fce.Want != 12 {
		t.Fatalf("unexpected counts: got=%d want=%d", fce.Got, fce.Want)
	}
	if fce.Line != 3 {
		t.Fatalf("expected line 3, got %d", fce.Line)
	}
}

func TestParseBatchAggregatesRowErrors(t *testing.T) {
	input := batchOf(
		row("", "NoID", "", "", "", "51.5", "-0.12", "149.9", "null", "2026-08-30T06:00:00Z", "", ""),
		row("st-2", "BadLat", "", "", "", "95.0", "-0.12", "149.9", "null", "2026-08-30T06:00:00Z", "", ""),
		row("st-3", "Fine", "", "", "", "51.5", "-0.12", "149.9", "null", "2026-08-30T06:00:00Z", "", ""),
	)

	records, err := ParseBatch(strings.NewReader(input))
	if records != nil {
		t.Fatal("rejected batch must not return records")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Rows) != 2 {
		t.Fatalf("expected 2 row errors, got %d: %v", len(verr.Rows), verr)
	}
	if verr.Rows[0].Line != 2 || verr.Rows[1].Line != 3 {
		t.Fatalf("row errors should carry line numbers: %#v", verr.Rows)
	}
}

func TestParseBatchNegativePrice(t *testing.T) {
	input := batchOf(
		row("st-1", "Alpha", "", "", "", "51.5", "-0.12", "-10", "null", "2026-08-30T06:00:00Z", "", ""),
	)

	var verr *ValidationError
	if _, err := ParseBatch(strings.NewReader(input)); !errors.As(err, &verr) {
		t.Fatalf("negative price should reject the batch, got %v", err)
	}
}

func TestParseBatchEmpty(t *testing.T) {
	if _, err := ParseBatch(strings.NewReader("")); !errors.Is(err, ErrNoRows) {
		t.Fatalf("empty input: expected ErrNoRows, got %v", err)
	}
	if _, err := ParseBatch(strings.NewReader(testHeader + "\n")); !errors.Is(err, ErrNoRows) {
		t.Fatalf("header only: expected ErrNoRows, got %v", err)
	}
}

func TestParseBatchHeaderMismatch(t *testing.T) {
	input := "station_id\tname\tbrand\taddress\tpostcode\tlatitude\tlongitude\tpetrol\tdiesel\tupdated_at\tamenities\topening_hours\n"
	if _, err := ParseBatch(strings.NewReader(input)); err == nil {
		t.Fatal("renamed header column should be rejected")
	}
}

func TestParseBatchBlobDegradesToAbsent(t *testing.T) {
	input := batchOf(
		row("st-1", "Alpha", "", "", "", "51.5", "-0.12", "149.9", "null", "2026-08-30T06:00:00Z", "{not json", "null"),
	)

	records, err := ParseBatch(strings.NewReader(input))
	if err != nil {
		t.Fatalf("malformed blob must not invalidate the row: %v", err)
	}
	if records[0].Amenities != nil || records[0].OpeningHours != nil {
		t.Fatalf("malformed blobs should be absent: %#v", records[0])
	}
}
