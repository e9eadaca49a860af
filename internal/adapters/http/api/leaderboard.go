package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/internal/domain/types"
)

// LeaderboardDependencies defines the interface for leaderboard operations
type LeaderboardDependencies interface {
	GetLeaderboard(ctx context.Context, q types.LeaderboardQuery) ([]Entry, error)
}

// LeaderboardHandler handles leaderboard requests
type LeaderboardHandler struct {
	deps     LeaderboardDependencies
	maxLimit int
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(deps LeaderboardDependencies, maxLimit int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:     deps,
		maxLimit: maxLimit,
	}
}

// HandleGetLeaderboard handles GET /leaderboard?kind=&all=&limit= requests
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	q, err := h.parseQuery(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := h.deps.GetLeaderboard(r.Context(), q)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *LeaderboardHandler) parseQuery(r *http.Request) (types.LeaderboardQuery, error) {
	values := r.URL.Query()
	q := types.LeaderboardQuery{Kind: model.EntityKind(values.Get("kind"))}

	if s := values.Get("all"); s != "" {
		all, err := strconv.ParseBool(s)
		if err != nil {
			return q, fmt.Errorf("%w: all must be a boolean", ErrBadRequest)
		}
		q.AllEntities = all
	}
	if s := values.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return q, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest)
		}
		if n > h.maxLimit {
			return q, fmt.Errorf("%w: limit exceeds %d", ErrBadRequest, h.maxLimit)
		}
		q.Limit = n
	}
	return q, nil
}
