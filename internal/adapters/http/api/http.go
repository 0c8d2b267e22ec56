// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/okian/gather/internal/adapters/source"
	service "github.com/okian/gather/internal/app"
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/internal/domain/normalize"
)

// Default limits.
const (
	defaultMaxBodyBytes      = 8 << 20
	defaultMaxDecisionsLimit = 500
	defaultDecisionsLimit    = 50
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	StatsProvider

	// Run triggers a pull run.
	Run(ctx context.Context, trigger service.Trigger) (service.RunReport, error)
	// IngestPayloads normalizes and deduplicates pushed records.
	IngestPayloads(ctx context.Context, tag model.SourceTag, tz string, raws []source.RawRecord) (service.RunReport, error)
	// Decisions returns the newest merge decisions.
	Decisions(ctx context.Context, limit int) ([]model.MergeDecision, error)
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxBodyBytes bounds the size of pushed payloads.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithMaxDecisionsLimit caps the limit accepted by GET /decisions.
func WithMaxDecisionsLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxDecisionsLimit = n
		}
	}
}

// Server wires HTTP routes for the ingestion API.
type Server struct {
	maxBodyBytes      int64
	maxDecisionsLimit int

	healthHandler    *HealthHandler
	statsHandler     *StatsHandler
	ingestHandler    *IngestHandler
	decisionsHandler *DecisionsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		maxBodyBytes:      defaultMaxBodyBytes,
		maxDecisionsLimit: defaultMaxDecisionsLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps)
	s.ingestHandler = NewIngestHandler(deps, s.maxBodyBytes)
	s.decisionsHandler = NewDecisionsHandler(deps, s.maxDecisionsLimit)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("/metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/ingest", MetricsMiddleware(s.ingestHandler.HandlePush, "ingest"))
	mux.HandleFunc("/ingest/run", MetricsMiddleware(s.ingestHandler.HandleRun, "ingest_run"))
	mux.HandleFunc("/decisions", MetricsMiddleware(s.decisionsHandler.HandleList, "decisions"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps service and domain error kinds to status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
	case errors.Is(err, service.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", WrapKind(op, ErrConflict, err))
	case errors.Is(err, service.ErrNoPayloads),
		errors.Is(err, normalize.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal", err)
	}
}
