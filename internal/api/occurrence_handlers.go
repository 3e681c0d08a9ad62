package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/comms-planner/internal/domain"
	"github.com/ignite/comms-planner/internal/pkg/httputil"
	"github.com/ignite/comms-planner/internal/service/occurrence"
	"github.com/ignite/comms-planner/internal/service/series"
)

// OccurrenceService is the engine surface the handlers drive.
type OccurrenceService interface {
	Get(ctx context.Context, actor domain.Actor, id string) (*domain.Occurrence, error)
	GetSeries(ctx context.Context, actor domain.Actor, id string) (*series.Series, error)
	CreateOccurrence(ctx context.Context, actor domain.Actor, req occurrence.CreateOccurrenceRequest) (*domain.Occurrence, error)
	EditOccurrence(ctx context.Context, actor domain.Actor, id string, req occurrence.EditOccurrenceRequest) (*domain.Occurrence, error)
	RegenerateRule(ctx context.Context, actor domain.Actor, headID, rule string) (*domain.Occurrence, error)
	DeleteOccurrence(ctx context.Context, actor domain.Actor, id string, scope domain.Scope) error
}

// OccurrenceHandlers serves /occurrences.
type OccurrenceHandlers struct {
	svc OccurrenceService
}

// NewOccurrenceHandlers creates the handlers.
func NewOccurrenceHandlers(svc OccurrenceService) *OccurrenceHandlers {
	return &OccurrenceHandlers{svc: svc}
}

// RegisterRoutes mounts the occurrence endpoints on r.
func (h *OccurrenceHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/occurrences", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Patch("/", h.HandleEdit)
			r.Delete("/", h.HandleDelete)
			r.Get("/series", h.HandleGetSeries)
			r.Put("/rule", h.HandleRegenerateRule)
		})
	})
}

// SeriesResponse is a head with its children.
type SeriesResponse struct {
	Head     domain.Occurrence   `json:"head"`
	Children []domain.Occurrence `json:"children"`
}

type ruleRequest struct {
	RRule string `json:"rrule"`
}

// HandleCreate creates a standalone occurrence or a series head.
//
//	POST /api/v1/occurrences
func (h *OccurrenceHandlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req occurrence.CreateOccurrenceRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	o, err := h.svc.CreateOccurrence(r.Context(), actor, req)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, o)
}

// HandleGet returns one occurrence.
//
//	GET /api/v1/occurrences/{id}
func (h *OccurrenceHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	o, err := h.svc.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, o)
}

// HandleGetSeries returns the series the occurrence belongs to. A standalone
// occurrence comes back as a head without children.
//
//	GET /api/v1/occurrences/{id}/series
func (h *OccurrenceHandlers) HandleGetSeries(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	s, err := h.svc.GetSeries(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	children := s.Children
	if children == nil {
		children = []domain.Occurrence{}
	}
	httputil.OK(w, SeriesResponse{Head: s.Head, Children: children})
}

// HandleEdit applies a patch with the scope given in the query string.
//
//	PATCH /api/v1/occurrences/{id}?scope=this|following|all
func (h *OccurrenceHandlers) HandleEdit(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	scope, err := domain.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var patch occurrence.OccurrencePatch
	if !httputil.Decode(w, r, &patch) {
		return
	}
	o, err := h.svc.EditOccurrence(r.Context(), actor, chi.URLParam(r, "id"),
		occurrence.EditOccurrenceRequest{Patch: patch, Scope: scope})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, o)
}

// HandleRegenerateRule replaces a head's rule and regenerates its children.
//
//	PUT /api/v1/occurrences/{id}/rule
func (h *OccurrenceHandlers) HandleRegenerateRule(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req ruleRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	o, err := h.svc.RegenerateRule(r.Context(), actor, chi.URLParam(r, "id"), req.RRule)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, o)
}

// HandleDelete deletes with the scope given in the query string.
//
//	DELETE /api/v1/occurrences/{id}?scope=this|following|all
func (h *OccurrenceHandlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	scope, err := domain.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := h.svc.DeleteOccurrence(r.Context(), actor, chi.URLParam(r, "id"), scope); err != nil {
		respondError(w, err)
		return
	}
	httputil.NoContent(w)
}
