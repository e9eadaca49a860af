package api

import (
	"context"
	"net/http"

	"github.com/okian/festboard/internal/domain/model"
)

// RankDependencies defines the interface for rank operations.
type RankDependencies interface {
	GetRank(ctx context.Context, kind model.EntityKind, entityID string) (Entry, error)
}

// RankHandler handles rank requests.
type RankHandler struct {
	deps RankDependencies
}

// NewRankHandler creates a new rank handler.
func NewRankHandler(deps RankDependencies) *RankHandler {
	return &RankHandler{deps: deps}
}

// HandleGetRank handles GET /rank/{kind}/{id} requests.
func (h *RankHandler) HandleGetRank(w http.ResponseWriter, r *http.Request) {
	entry, err := h.deps.GetRank(r.Context(), model.EntityKind(r.PathValue("kind")), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
