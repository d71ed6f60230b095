package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/geocode"
	"fuelwatch/internal/search"
	"fuelwatch/internal/storage"
)

type fakeSearcher struct {
	results []search.Result
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) ([]search.Result, error) {
	return f.results, f.err
}

type fakeIngester struct {
	run        domain.Run
	runErr     error
	runCalls   int
	rejections int
}

func (f *fakeIngester) Run(ctx context.Context, records []domain.StationRecord) (domain.Run, error) {
	f.runCalls++
	return f.run, f.runErr
}

func (f *fakeIngester) RecordRejection(startedAt time.Time, cause error) domain.Run {
	f.rejections++
	return domain.Run{ID: uuid.New(), Kind: domain.RunIngestion, Status: domain.RunFailed}
}

// fakeStore backs every storage interface the server needs.
type fakeStore struct {
	rules    map[string]domain.AlertRule
	station  *domain.Station
	snapshot *domain.PriceSnapshot
	runs     []domain.Run
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: make(map[string]domain.AlertRule)}
}

func (f *fakeStore) CreateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	rule.CreatedAt = time.Now().UTC()
	f.rules[rule.ID.String()] = rule
	return rule, nil
}

func (f *fakeStore) UpdateAlertRule(ctx context.Context, rule domain.AlertRule) (domain.AlertRule, error) {
	if _, ok := f.rules[rule.ID.String()]; !ok {
		return domain.AlertRule{}, storage.ErrAlertRuleNotFound
	}
	f.rules[rule.ID.String()] = rule
	return rule, nil
}

func (f *fakeStore) DeleteAlertRule(ctx context.Context, id string) error {
	if _, ok := f.rules[id]; !ok {
		return storage.ErrAlertRuleNotFound
	}
	delete(f.rules, id)
	return nil
}

func (f *fakeStore) GetAlertRule(ctx context.Context, id string) (*domain.AlertRule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (f *fakeStore) ListAlertRulesByUser(ctx context.Context, userID string) ([]domain.AlertRule, error) {
	out := make([]domain.AlertRule, 0)
	for _, rule := range f.rules {
		if rule.UserID == userID {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeStore) ListEnabledAlertRules(ctx context.Context) ([]domain.AlertRule, error) {
	return nil, nil
}

func (f *fakeStore) SetAlertBaseline(ctx context.Context, id string, pricePpl int64) error {
	return nil
}

func (f *fakeStore) MarkAlertNotified(ctx context.Context, id string, pricePpl int64, at time.Time, window []time.Time, expected *int64) (bool, error) {
	return true, nil
}

func (f *fakeStore) MarkAlertSuppressed(ctx context.Context, id string, pricePpl int64, expected *int64) (bool, error) {
	return true, nil
}

func (f *fakeStore) InsertRun(ctx context.Context, run domain.Run) error {
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeStore) ListRecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return f.runs, nil
}

func (f *fakeStore) GetStation(ctx context.Context, id string) (*domain.Station, error) {
	return f.station, nil
}

func (f *fakeStore) ListPricedStations(ctx context.Context, fuel domain.FuelType) ([]domain.PricedStation, error) {
	return nil, nil
}

func (f *fakeStore) GetSnapshot(ctx context.Context, stationID string, fuel domain.FuelType) (*domain.PriceSnapshot, error) {
	if fuel == domain.FuelPetrol {
		return f.snapshot, nil
	}
	return nil, nil
}

func (f *fakeStore) ListHistory(ctx context.Context, stationID string, fuel domain.FuelType, from, to time.Time) ([]domain.PriceHistoryEntry, error) {
	return nil, nil
}

type testHarness struct {
	router   http.Handler
	store    *fakeStore
	searcher *fakeSearcher
	ingester *fakeIngester
}

func newHarness(token string) *testHarness {
	store := newFakeStore()
	searcher := &fakeSearcher{}
	ingester := &fakeIngester{run: domain.Run{
		ID:       uuid.New(),
		Kind:     domain.RunIngestion,
		Status:   domain.RunSuccess,
		Counters: map[string]int{"stations_processed": 1},
	}}
	srv := NewServer(zerolog.Nop(), searcher, ingester, store, store, store, store, token)
	return &testHarness{router: srv.Router(), store: store, searcher: searcher, ingester: ingester}
}

func (h *testHarness) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

const validBatch = "station_id\tname\tbrand\taddress\tpostcode\tlatitude\tlongitude\tpetrol_price\tdiesel_price\tupdated_at\tamenities\topening_hours\n" +
	"st-1\tAlpha\t\t\t\t51.5\t-0.12\t149.9\tnull\t2026-08-30T06:00:00Z\t\t\n"

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestIngestRejectsBeforeParsing(t *testing.T) {
	h := newHarness("secret")

	// A garbage payload with a bad token must produce 401, never a
	// validation response, and must not touch the ingester.
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", "not a batch at all", bearer("wrong"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if h.ingester.rejections != 0 || h.ingester.runCalls != 0 {
		t.Fatal("unauthorized request must not reach the ingester")
	}
}

func TestIngestMissingToken(t *testing.T) {
	h := newHarness("secret")
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", validBatch, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestIngestDisabledWithoutConfiguredToken(t *testing.T) {
	h := newHarness("")
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", validBatch, bearer(""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no configured token should reject everything, got %d", rec.Code)
	}
}

func TestIngestValidationFailure(t *testing.T) {
	h := newHarness("secret")
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", "bogus\tbatch\n", bearer("secret"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if h.ingester.rejections != 1 {
		t.Fatal("validation failure should be recorded as a rejected run")
	}
	if h.ingester.runCalls != 0 {
		t.Fatal("rejected batch must not be ingested")
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestIngestBodyReadFailure(t *testing.T) {
	h := newHarness("secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", brokenReader{})
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	// A transport failure is the client's 400, not a 413.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "too large") {
		t.Fatalf("read failure should not report payload too large: %s", rec.Body.String())
	}
	if h.ingester.rejections != 0 || h.ingester.runCalls != 0 {
		t.Fatal("unread payload must not reach the ingester")
	}
}

func TestIngestSuccess(t *testing.T) {
	h := newHarness("secret")
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", validBatch, bearer("secret"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp runResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "success" || resp.Counters["stations_processed"] != 1 {
		t.Fatalf("unexpected run response %+v", resp)
	}
}

func TestIngestAcceptsAPIKeyHeader(t *testing.T) {
	h := newHarness("secret")
	rec := h.do(t, http.MethodPost, "/api/v1/ingest", validBatch, map[string]string{"X-API-Key": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("X-API-Key should authenticate, got %d", rec.Code)
	}
}

func TestSearchValidation(t *testing.T) {
	h := newHarness("")

	cases := []struct {
		name string
		path string
		code int
	}{
		{"unknown fuel", "/api/v1/search?fuel=lpg&radius=2&postcode=SW1A1AA", http.StatusBadRequest},
		{"missing radius", "/api/v1/search?fuel=petrol&postcode=SW1A1AA", http.StatusBadRequest},
		{"negative radius", "/api/v1/search?fuel=petrol&radius=-1&postcode=SW1A1AA", http.StatusBadRequest},
		{"both origins", "/api/v1/search?fuel=petrol&radius=2&postcode=SW1A1AA&lat=51.5&lng=-0.12", http.StatusBadRequest},
		{"half coordinates", "/api/v1/search?fuel=petrol&radius=2&lat=51.5", http.StatusBadRequest},
	}

	for _, tc := range cases {
		rec := h.do(t, http.MethodGet, tc.path, "", nil)
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, rec.Code)
		}
	}
}

func TestSearchUnresolvableLocation(t *testing.T) {
	h := newHarness("")
	h.searcher.err = fmt.Errorf("resolve: %w", geocode.ErrNotResolvable)

	rec := h.do(t, http.MethodGet, "/api/v1/search?fuel=petrol&radius=2&postcode=ZZ999ZZ", "", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unresolvable postcode should be 422, got %d", rec.Code)
	}
}

func TestSearchNoOrigin(t *testing.T) {
	h := newHarness("")
	h.searcher.err = search.ErrNoOrigin

	rec := h.do(t, http.MethodGet, "/api/v1/search?fuel=petrol&radius=2", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing origin should be 400, got %d", rec.Code)
	}
}

func TestSearchResults(t *testing.T) {
	h := newHarness("")
	h.searcher.results = []search.Result{{
		Station:       domain.Station{ID: "st-1", Name: "Alpha", Latitude: 51.5, Longitude: -0.12},
		PricePpl:      147,
		DistanceMiles: 0.9,
		SourceTS:      time.Now().UTC(),
	}}

	rec := h.do(t, http.MethodGet, "/api/v1/search?fuel=petrol&radius=2&postcode=SW1A1AA", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Results []searchResultResponse `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].PricePpl != 147 {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
}

func TestGetStationNotFound(t *testing.T) {
	h := newHarness("")
	rec := h.do(t, http.MethodGet, "/api/v1/stations/unknown", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetStationWithPrices(t *testing.T) {
	h := newHarness("")
	price := int64(149)
	h.store.station = &domain.Station{ID: "st-1", Name: "Alpha"}
	h.store.snapshot = &domain.PriceSnapshot{StationID: "st-1", Fuel: domain.FuelPetrol, PricePpl: &price, SourceTS: time.Now().UTC()}

	rec := h.do(t, http.MethodGet, "/api/v1/stations/st-1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Prices map[string]struct {
			PricePpl int64 `json:"price_ppl"`
		} `json:"prices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Prices["petrol"].PricePpl != 149 {
		t.Fatalf("petrol snapshot missing from response: %s", rec.Body.String())
	}
	if _, ok := resp.Prices["diesel"]; ok {
		t.Fatal("absent diesel snapshot should be omitted")
	}
}

func TestCreateAlertRule(t *testing.T) {
	h := newHarness("")
	body := `{"user_id":"user-1","postcode":"sw1a 1aa","radius_miles":2,"fuel":"petrol","threshold_ppl":2}`

	rec := h.do(t, http.MethodPost, "/api/v1/alerts/", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp alertRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Postcode != "SW1A1AA" {
		t.Fatalf("postcode should be stored normalised, got %q", resp.Postcode)
	}
	if !resp.Enabled {
		t.Fatal("enabled should default to true")
	}
}

func TestCreateAlertRuleValidation(t *testing.T) {
	h := newHarness("")

	cases := []struct {
		name string
		body string
	}{
		{"missing user", `{"postcode":"SW1A1AA","radius_miles":2,"fuel":"petrol","threshold_ppl":2}`},
		{"bad fuel", `{"user_id":"u","postcode":"SW1A1AA","radius_miles":2,"fuel":"lpg","threshold_ppl":2}`},
		{"zero threshold", `{"user_id":"u","postcode":"SW1A1AA","radius_miles":2,"fuel":"petrol","threshold_ppl":0}`},
		{"huge radius", `{"user_id":"u","postcode":"SW1A1AA","radius_miles":500,"fuel":"petrol","threshold_ppl":2}`},
		{"no location", `{"user_id":"u","radius_miles":2,"fuel":"petrol","threshold_ppl":2}`},
		{"half coordinates", `{"user_id":"u","latitude":51.5,"radius_miles":2,"fuel":"petrol","threshold_ppl":2}`},
		{"bad json", `{"user_id":`},
	}

	for _, tc := range cases {
		rec := h.do(t, http.MethodPost, "/api/v1/alerts/", tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}
}

func TestAlertRuleLifecycle(t *testing.T) {
	h := newHarness("")
	body := `{"user_id":"user-1","postcode":"SW1A1AA","radius_miles":2,"fuel":"petrol","threshold_ppl":2}`

	rec := h.do(t, http.MethodPost, "/api/v1/alerts/", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	var created alertRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created rule: %v", err)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/alerts/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	update := `{"user_id":"user-1","postcode":"SW1A1AA","radius_miles":5,"fuel":"diesel","threshold_ppl":3,"enabled":false}`
	rec = h.do(t, http.MethodPut, "/api/v1/alerts/"+created.ID, update, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated alertRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated rule: %v", err)
	}
	if updated.Fuel != "diesel" || updated.Enabled {
		t.Fatalf("update not applied: %+v", updated)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/alerts/"+created.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/alerts/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestAlertRuleUnknownID(t *testing.T) {
	h := newHarness("")
	id := uuid.NewString()

	rec := h.do(t, http.MethodDelete, "/api/v1/alerts/"+id, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("delete unknown: expected 404, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/alerts/not-a-uuid", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed id: expected 400, got %d", rec.Code)
	}
}

func TestListAlertRulesRequiresUser(t *testing.T) {
	h := newHarness("")
	rec := h.do(t, http.MethodGet, "/api/v1/alerts/?user_id=", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListRunsLimitValidation(t *testing.T) {
	h := newHarness("")
	rec := h.do(t, http.MethodGet, "/api/v1/runs?limit=0", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness("")
	rec := h.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
