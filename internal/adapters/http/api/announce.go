package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/festboard/internal/domain/model"
)

// announceRequest is the body of POST /announcements.
type announceRequest struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// AnnounceHandler publishes caller-supplied events.
type AnnounceHandler struct {
	deps AnnounceDependencies
}

// NewAnnounceHandler creates a new announce handler.
func NewAnnounceHandler(deps AnnounceDependencies) *AnnounceHandler {
	return &AnnounceHandler{deps: deps}
}

// HandleAnnounce handles POST /announcements.
func (h *AnnounceHandler) HandleAnnounce(w http.ResponseWriter, r *http.Request) {
	var req announceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}
	ev, err := h.deps.Announce(r.Context(), model.Channel(req.Channel), req.Event, payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}
