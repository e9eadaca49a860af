package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/okian/festboard/internal/adapters/repository"
	"github.com/okian/festboard/internal/domain/model"
)

// maxBodyBytes bounds request bodies on write endpoints.
const maxBodyBytes = 1 << 20

// placementRequest is the body of POST /results.
type placementRequest struct {
	ProgramID  string `json:"program_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	Placement  int    `json:"placement"`
	Grade      string `json:"grade"`
	EventType  string `json:"event_type"`
}

func (p placementRequest) record() model.Record {
	return model.Record{
		ProgramID:  p.ProgramID,
		EntityID:   p.EntityID,
		EntityKind: model.EntityKind(p.EntityKind),
		Placement:  p.Placement,
		Grade:      model.Grade(p.Grade),
		EventType:  model.EventType(p.EventType),
	}
}

// correctionRequest is the body of POST /results/{id}/correct.
type correctionRequest struct {
	Placement int    `json:"placement"`
	Grade     string `json:"grade"`
	EventType string `json:"event_type"`
}

// ResultsHandler handles result record requests.
type ResultsHandler struct {
	deps ResultsDependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps ResultsDependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleSubmit handles POST /results.
func (h *ResultsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var req placementRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := h.deps.SubmitPlacement(r.Context(), req.record())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// HandleList handles GET /results?program_id=&entity_id=&kind=&status=.
func (h *ResultsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.Filter{
		ProgramID: q.Get("program_id"),
		EntityID:  q.Get("entity_id"),
		Kind:      model.EntityKind(q.Get("kind")),
		Status:    model.Status(q.Get("status")),
	}
	records, err := h.deps.ListResults(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// HandleGet handles GET /results/{id}.
func (h *ResultsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.GetResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleApprove handles POST /results/{id}/approve.
func (h *ResultsHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.ApproveResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleReject handles POST /results/{id}/reject.
func (h *ResultsHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.RejectResult(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleCorrect handles POST /results/{id}/correct.
func (h *ResultsHandler) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := h.deps.CorrectResult(r.Context(), r.PathValue("id"), model.Correction{
		Placement: req.Placement,
		Grade:     model.Grade(req.Grade),
		EventType: model.EventType(req.EventType),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
