package workflows

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/crestline/renewals/internal/synthesis"
	"github.com/crestline/renewals/pkg/handlers"
	"github.com/crestline/renewals/pkg/pagination"
	"github.com/crestline/renewals/pkg/routes"
)

// Orchestrator drives lane execution for workflow operations that need more
// than persistence: launching lanes, acting on decisions, and retries.
type Orchestrator interface {
	Launch(ctx context.Context, borrowerID, sector string) (*Workflow, error)
	Decide(ctx context.Context, workflowID uuid.UUID, laneID string, attemptID uuid.UUID, approved bool) (*Lane, error)
	Retry(ctx context.Context, workflowID uuid.UUID, laneID string) (*Lane, error)
	Abandon(ctx context.Context, workflowID uuid.UUID) (*Workflow, error)
}

type Handler struct {
	sys        System
	engine     Orchestrator
	memos      synthesis.System
	logger     *slog.Logger
	pagination pagination.Config
}

func NewHandler(
	sys System,
	engine Orchestrator,
	memos synthesis.System,
	logger *slog.Logger,
	pagination pagination.Config,
) *Handler {
	return &Handler{
		sys:        sys,
		engine:     engine,
		memos:      memos,
		logger:     logger.With("handler", "workflows"),
		pagination: pagination,
	}
}

func (h *Handler) Routes() routes.Group {
	return routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: http.MethodGet, Pattern: "/", Handler: h.list},
			{Method: http.MethodPost, Pattern: "/", Handler: h.create},
			{Method: http.MethodPost, Pattern: "/search", Handler: h.search},
			{Method: http.MethodGet, Pattern: "/active", Handler: h.active},
			{Method: http.MethodGet, Pattern: "/{id}", Handler: h.find},
			{Method: http.MethodGet, Pattern: "/{id}/lanes", Handler: h.lanes},
			{Method: http.MethodGet, Pattern: "/{id}/lanes/{lane}", Handler: h.lane},
			{Method: http.MethodGet, Pattern: "/{id}/decisions", Handler: h.decisions},
			{Method: http.MethodPost, Pattern: "/{id}/lanes/{lane}/decision", Handler: h.decide},
			{Method: http.MethodPost, Pattern: "/{id}/lanes/{lane}/retry", Handler: h.retry},
			{Method: http.MethodPost, Pattern: "/{id}/abandon", Handler: h.abandon},
			{Method: http.MethodGet, Pattern: "/{id}/memo", Handler: h.memo},
		},
	}
}

type createRequest struct {
	BorrowerID string `json:"borrower_id"`
	Sector     string `json:"sector"`
}

type decisionRequest struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Approved  bool      `json:"approved"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := pagination.PageRequestFromQuery(r.URL.Query(), h.pagination)
	filters := FiltersFromQuery(r.URL.Query())

	result, err := h.sys.List(r.Context(), page, filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	var body struct {
		pagination.PageRequest
		Filters
	}

	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	result, err := h.sys.List(r.Context(), body.PageRequest, body.Filters)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, result)
}

// active resolves the current active workflow for a borrower and sector,
// letting a client recover the conflicting workflow after a duplicate launch.
func (h *Handler) active(w http.ResponseWriter, r *http.Request) {
	borrowerID := r.URL.Query().Get("borrower_id")
	sector := r.URL.Query().Get("sector")

	if borrowerID == "" || sector == "" {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, ErrInvalidIdentity)
		return
	}

	flow, err := h.sys.FindByIdentity(r.Context(), borrowerID, sector)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, flow)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body createRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	flow, err := h.engine.Launch(r.Context(), body.BorrowerID, body.Sector)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusCreated, flow)
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	flow, err := h.sys.Find(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, flow)
}

func (h *Handler) lanes(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	lanes, err := h.sys.Lanes(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, lanes)
}

func (h *Handler) lane(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	lane, err := h.sys.Lane(r.Context(), id, r.PathValue("lane"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, lane)
}

func (h *Handler) decisions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	decisions, err := h.sys.Decisions(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, decisions)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	var body decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	lane, err := h.engine.Decide(r.Context(), id, r.PathValue("lane"), body.AttemptID, body.Approved)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, lane)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	lane, err := h.engine.Retry(r.Context(), id, r.PathValue("lane"))
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, lane)
}

func (h *Handler) abandon(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	flow, err := h.engine.Abandon(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, flow)
}

func (h *Handler) memo(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		handlers.RespondError(w, h.logger, http.StatusBadRequest, err)
		return
	}

	memo, err := h.memos.Memo(r.Context(), id)
	if err != nil {
		handlers.RespondError(w, h.logger, synthesis.MapHTTPStatus(err), err)
		return
	}

	handlers.RespondJSON(w, http.StatusOK, memo)
}
