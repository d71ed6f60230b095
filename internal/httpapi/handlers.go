package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/feed"
	"fuelwatch/internal/geocode"
	"fuelwatch/internal/search"
	"fuelwatch/internal/storage"
)

const maxIngestBody = 64 << 20

// --- ingestion trigger ---

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	startedAt := time.Now().UTC()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	records, err := feed.ParseBatch(bytes.NewReader(body))
	if err != nil {
		run := s.ingest.RecordRejection(startedAt, err)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  err.Error(),
			"run_id": run.ID.String(),
		})
		return
	}

	run, err := s.ingest.Run(r.Context(), records)
	if err != nil {
		s.logger.Error().Err(err).Msg("ingestion pass failed")
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusOK, runResponseFrom(run))
}

// --- search ---

type searchResultResponse struct {
	StationID     string  `json:"station_id"`
	Name          string  `json:"name"`
	Brand         string  `json:"brand"`
	Address       string  `json:"address"`
	Postcode      string  `json:"postcode"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	PricePpl      int64   `json:"price_ppl"`
	DistanceMiles float64 `json:"distance_miles"`
	SourceTS      string  `json:"source_ts"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	fuel, err := domain.ParseFuelType(params.Get("fuel"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	radius, err := strconv.ParseFloat(params.Get("radius"), 64)
	if err != nil || radius <= 0 {
		writeError(w, http.StatusBadRequest, "radius must be a positive number of miles")
		return
	}

	postcode := params.Get("postcode")
	latStr, lngStr := params.Get("lat"), params.Get("lng")

	q := search.Query{Postcode: postcode, RadiusMiles: radius, Fuel: fuel}
	if latStr != "" || lngStr != "" {
		if postcode != "" {
			writeError(w, http.StatusBadRequest, "provide either postcode or lat/lng, not both")
			return
		}
		lat, latErr := strconv.ParseFloat(latStr, 64)
		lng, lngErr := strconv.ParseFloat(lngStr, 64)
		if latErr != nil || lngErr != nil {
			writeError(w, http.StatusBadRequest, "lat and lng must both be numbers")
			return
		}
		q.Latitude = &lat
		q.Longitude = &lng
	}

	results, err := s.searcher.Search(r.Context(), q)
	if err != nil {
		switch {
		case errors.Is(err, geocode.ErrNotResolvable):
			writeError(w, http.StatusUnprocessableEntity, "location not resolvable")
		case errors.Is(err, search.ErrNoOrigin):
			writeError(w, http.StatusBadRequest, "postcode or lat/lng required")
		default:
			s.logger.Error().Err(err).Msg("search failed")
			writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}

	out := make([]searchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultResponse{
			StationID:     res.Station.ID,
			Name:          res.Station.Name,
			Brand:         res.Station.Brand,
			Address:       res.Station.Address,
			Postcode:      res.Station.Postcode,
			Latitude:      res.Station.Latitude,
			Longitude:     res.Station.Longitude,
			PricePpl:      res.PricePpl,
			DistanceMiles: res.DistanceMiles,
			SourceTS:      res.SourceTS.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// --- stations ---

func (s *Server) handleGetStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	station, err := s.stations.GetStation(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("station_id", id).Msg("get station failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if station == nil {
		writeError(w, http.StatusNotFound, "station not found")
		return
	}

	prices := make(map[string]any, len(domain.FuelTypes))
	for _, fuel := range domain.FuelTypes {
		snap, err := s.prices.GetSnapshot(r.Context(), id, fuel)
		if err != nil {
			s.logger.Error().Err(err).Str("station_id", id).Msg("get snapshot failed")
			writeError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		if snap == nil || snap.PricePpl == nil {
			continue
		}
		prices[string(fuel)] = map[string]any{
			"price_ppl": *snap.PricePpl,
			"source_ts": snap.SourceTS.UTC().Format(time.RFC3339),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"station_id":    station.ID,
		"name":          station.Name,
		"brand":         station.Brand,
		"address":       station.Address,
		"postcode":      station.Postcode,
		"latitude":      station.Latitude,
		"longitude":     station.Longitude,
		"amenities":     station.Amenities,
		"opening_hours": station.OpeningHours,
		"prices":        prices,
	})
}

// --- runs ---

type runResponse struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind"`
	Status     string         `json:"status"`
	StartedAt  string         `json:"started_at"`
	FinishedAt string         `json:"finished_at"`
	Counters   map[string]int `json:"counters"`
	Errors     []string       `json:"errors,omitempty"`
}

func runResponseFrom(run domain.Run) runResponse {
	return runResponse{
		ID:         run.ID.String(),
		Kind:       string(run.Kind),
		Status:     string(run.Status),
		StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: run.FinishedAt.UTC().Format(time.RFC3339),
		Counters:   run.Counters,
		Errors:     run.Errors,
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	runs, err := s.runs.ListRecentRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponseFrom(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// --- alert rules ---

type alertRulePayload struct {
	UserID       string   `json:"user_id"`
	Postcode     string   `json:"postcode"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	RadiusMiles  float64  `json:"radius_miles"`
	Fuel         string   `json:"fuel"`
	ThresholdPpl int64    `json:"threshold_ppl"`
	Enabled      *bool    `json:"enabled"`
}

const (
	maxRuleRadiusMiles = 100.0
	maxThresholdPpl    = 10000
)

func (p alertRulePayload) validate() (domain.AlertRule, error) {
	if p.UserID == "" {
		return domain.AlertRule{}, errors.New("user_id is required")
	}

	fuel, err := domain.ParseFuelType(p.Fuel)
	if err != nil {
		return domain.AlertRule{}, err
	}

	if p.ThresholdPpl < 1 || p.ThresholdPpl > maxThresholdPpl {
		return domain.AlertRule{}, errors.New("threshold_ppl out of supported range")
	}
	if p.RadiusMiles <= 0 || p.RadiusMiles > maxRuleRadiusMiles {
		return domain.AlertRule{}, errors.New("radius_miles out of supported range")
	}

	hasCoords := p.Latitude != nil && p.Longitude != nil
	if p.Postcode == "" && !hasCoords {
		return domain.AlertRule{}, errors.New("either postcode or latitude/longitude is required")
	}
	if (p.Latitude != nil) != (p.Longitude != nil) {
		return domain.AlertRule{}, errors.New("latitude and longitude must be provided together")
	}
	if hasCoords {
		if *p.Latitude < -90 || *p.Latitude > 90 || *p.Longitude < -180 || *p.Longitude > 180 {
			return domain.AlertRule{}, errors.New("coordinates out of range")
		}
	}

	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}

	return domain.AlertRule{
		UserID:       p.UserID,
		Postcode:     geocode.Normalize(p.Postcode),
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		RadiusMiles:  p.RadiusMiles,
		Fuel:         fuel,
		ThresholdPpl: p.ThresholdPpl,
		Enabled:      enabled,
	}, nil
}

type alertRuleResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Postcode        string     `json:"postcode,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	RadiusMiles     float64    `json:"radius_miles"`
	Fuel            string     `json:"fuel"`
	ThresholdPpl    int64      `json:"threshold_ppl"`
	Enabled         bool       `json:"enabled"`
	LastNotifiedPpl *int64     `json:"last_notified_ppl,omitempty"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func alertRuleResponseFrom(rule domain.AlertRule) alertRuleResponse {
	return alertRuleResponse{
		ID:              rule.ID.String(),
		UserID:          rule.UserID,
		Postcode:        rule.Postcode,
		Latitude:        rule.Latitude,
		Longitude:       rule.Longitude,
		RadiusMiles:     rule.RadiusMiles,
		Fuel:            string(rule.Fuel),
		ThresholdPpl:    rule.ThresholdPpl,
		Enabled:         rule.Enabled,
		LastNotifiedPpl: rule.LastNotifiedPpl,
		LastTriggeredAt: rule.LastTriggeredAt,
		CreatedAt:       rule.CreatedAt,
	}
}

func decodeRulePayload(r *http.Request) (domain.AlertRule, error) {
	var payload alertRulePayload
	if err := jsonDecode(r.Body, &payload); err != nil {
		return domain.AlertRule{}, errors.New("invalid json payload")
	}
	return payload.validate()
}

func (s *Server) handleCreateAlertRule(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeRulePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = uuid.New()

	stored, err := s.rules.CreateAlertRule(r.Context(), rule)
	if err != nil {
		s.logger.Error().Err(err).Msg("create alert rule failed")
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, alertRuleResponseFrom(stored))
}

func (s *Server) handleUpdateAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := decodeRulePayload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.ID = id

	stored, err := s.rules.UpdateAlertRule(r.Context(), rule)
	if err != nil {
		if errors.Is(err, storage.ErrAlertRuleNotFound) {
			writeError(w, http.StatusNotFound, "alert rule not found")
			return
		}
		s.logger.Error().Err(err).Msg("update alert rule failed")
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, alertRuleResponseFrom(stored))
}

func (s *Server) handleDeleteAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	if err := s.rules.DeleteAlertRule(r.Context(), id.String()); err != nil {
		if errors.Is(err, storage.ErrAlertRuleNotFound) {
			writeError(w, http.StatusNotFound, "alert rule not found")
			return
		}
		s.logger.Error().Err(err).Msg("delete alert rule failed")
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAlertRule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}

	rule, err := s.rules.GetAlertRule(r.Context(), id.String())
	if err != nil {
		s.logger.Error().Err(err).Msg("get alert rule failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "alert rule not found")
		return
	}
	writeJSON(w, http.StatusOK, alertRuleResponseFrom(*rule))
}

func (s *Server) handleListAlertRules(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	rules, err := s.rules.ListAlertRulesByUser(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Msg("list alert rules failed")
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	out := make([]alertRuleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, alertRuleResponseFrom(rule))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": out})
}
