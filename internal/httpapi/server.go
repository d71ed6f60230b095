package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/search"
	"fuelwatch/internal/storage"
)

// Server exposes the engine over HTTP. Handlers stay thin: parse, call,
// encode.
type Server struct {
	logger      zerolog.Logger
	searcher    Searcher
	ingest      Ingester
	rules       storage.AlertRuleStore
	runs        storage.RunStore
	stations    storage.StationStore
	prices      storage.PriceStore
	ingestToken string
}

// Searcher answers search queries. Satisfied by *search.Service.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Ingester runs one ingestion pass over validated records. Satisfied by
// *ingest.Service.
type Ingester interface {
	Run(ctx context.Context, records []domain.StationRecord) (domain.Run, error)
	RecordRejection(startedAt time.Time, cause error) domain.Run
}

// NewServer wires the engine services into an HTTP server.
func NewServer(logger zerolog.Logger, searcher Searcher, ingest Ingester, rules storage.AlertRuleStore, runs storage.RunStore, stations storage.StationStore, prices storage.PriceStore, ingestToken string) *Server {
	return &Server{
		logger:      logger.With().Str("component", "httpapi").Logger(),
		searcher:    searcher,
		ingest:      ingest,
		rules:       rules,
		runs:        runs,
		stations:    stations,
		prices:      prices,
		ingestToken: ingestToken,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(s.requireIngestToken).Post("/ingest", s.handleIngest)

		r.Get("/search", s.handleSearch)
		r.Get("/stations/{id}", s.handleGetStation)
		r.Get("/runs", s.handleListRuns)

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.handleCreateAlertRule)
			r.Get("/", s.handleListAlertRules)
			r.Get("/{id}", s.handleGetAlertRule)
			r.Put("/{id}", s.handleUpdateAlertRule)
			r.Delete("/{id}", s.handleDeleteAlertRule)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request handled")
	})
}

func jsonDecode(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
