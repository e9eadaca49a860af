// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/adapters/repository"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/internal/domain/types"
	"github.com/okian/festboard/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	ResultsDependencies
	LeaderboardDependencies
	RankDependencies
	AnnounceDependencies
	StreamDependencies
	StatsProvider
}

// ResultsDependencies covers the result record lifecycle.
type ResultsDependencies interface {
	SubmitPlacement(ctx context.Context, r model.Record) (model.Record, error)
	ApproveResult(ctx context.Context, id string) (model.Record, error)
	RejectResult(ctx context.Context, id string) (model.Record, error)
	CorrectResult(ctx context.Context, id string, c model.Correction) (model.Record, error)
	GetResult(ctx context.Context, id string) (model.Record, error)
	ListResults(ctx context.Context, f repository.Filter) ([]model.Record, error)
}

// AnnounceDependencies publishes auxiliary channel events.
type AnnounceDependencies interface {
	Announce(ctx context.Context, channel model.Channel, event string, payload any) (model.ChannelEvent, error)
}

// StreamDependencies registers live subscribers.
type StreamDependencies interface {
	Subscribe(ctx context.Context, sink broker.Sink, channels ...model.Channel) (*broker.Subscription, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	resultsHandler     *ResultsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	announceHandler    *AnnounceHandler
	streamHandler      *StreamHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named("api")
	}
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(deps),
		resultsHandler:     NewResultsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, o.maxLimit),
		rankHandler:        NewRankHandler(deps),
		announceHandler:    NewAnnounceHandler(deps),
		streamHandler:      NewStreamHandler(deps, o.logger, o.writeTimeout),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /results", MetricsMiddleware(s.resultsHandler.HandleSubmit, "results_submit"))
	mux.HandleFunc("GET /results", MetricsMiddleware(s.resultsHandler.HandleList, "results_list"))
	mux.HandleFunc("GET /results/{id}", MetricsMiddleware(s.resultsHandler.HandleGet, "results_get"))
	mux.HandleFunc("POST /results/{id}/approve", MetricsMiddleware(s.resultsHandler.HandleApprove, "results_approve"))
	mux.HandleFunc("POST /results/{id}/reject", MetricsMiddleware(s.resultsHandler.HandleReject, "results_reject"))
	mux.HandleFunc("POST /results/{id}/correct", MetricsMiddleware(s.resultsHandler.HandleCorrect, "results_correct"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{kind}/{id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("POST /announcements", MetricsMiddleware(s.announceHandler.HandleAnnounce, "announcements"))

	// Not wrapped: the hijacked connection outlives the request.
	mux.HandleFunc("GET /stream", s.streamHandler.HandleStream)
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

// writeDomainError maps domain error kinds to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err)
	case errors.Is(err, model.ErrStoreUnavailable), errors.Is(err, model.ErrNotificationFailure):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
