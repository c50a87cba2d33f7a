package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldwatch/internal/core"
	"fieldwatch/internal/milestone"
	"fieldwatch/internal/types"
)

// MilestoneService is the contract the milestone handler needs. It matches
// *milestone.Service.
type MilestoneService interface {
	Get(ctx context.Context, actor types.Actor, id string) (*milestone.View, error)
	Transition(ctx context.Context, actor types.Actor, id string, to milestone.Status) (*milestone.View, error)
	RetryPayout(ctx context.Context, actor types.Actor, id string) (*milestone.View, error)
}

// MilestoneHandler exposes the milestone lifecycle.
type MilestoneHandler struct {
	service   MilestoneService
	validator *core.Validator
	logger    *slog.Logger
}

// NewMilestoneHandler creates a MilestoneHandler.
func NewMilestoneHandler(svc MilestoneService, val *core.Validator, logger *slog.Logger) *MilestoneHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MilestoneHandler{service: svc, validator: val, logger: logger}
}

// RegisterRoutes mounts the milestone endpoints. The payout retry is limited
// to reviewers.
func (h *MilestoneHandler) RegisterRoutes(r chi.Router) {
	r.Get("/transitions", h.HandleTransitionTable)
	r.Get("/{id}", h.HandleGet)
	r.Post("/{id}/transition", h.HandleTransition)
	r.With(core.RequireRole(types.RoleAdmin)).Post("/{id}/payout", h.HandleRetryPayout)
}

// TransitionTableResponse lists the states reachable from status for role.
type TransitionTableResponse struct {
	Role     types.Role         `json:"role"`
	Status   milestone.Status   `json:"status"`
	Allowed  []milestone.Status `json:"allowed"`
	Terminal bool               `json:"terminal"`
}

// HandleTransitionTable handles GET /v1/milestones/transitions?status=&role=.
// The role defaults to the caller's. Legacy status labels are accepted.
func (h *MilestoneHandler) HandleTransitionTable(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	status := milestone.Normalize(q.Get("status"))
	if !status.Valid() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidStatus,
			"unknown milestone status", nil).WithDetails(map[string]any{"status": q.Get("status")}))
		return
	}

	role := actor.Role
	if raw := q.Get("role"); raw != "" {
		role = types.Role(raw)
		if !role.Valid() {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidRequest,
				"role must be farmer or admin", nil))
			return
		}
	}

	allowed := milestone.AllowedTransitions(role, status)
	if allowed == nil {
		allowed = []milestone.Status{}
	}
	core.Data(w, r, http.StatusOK, TransitionTableResponse{
		Role:     role,
		Status:   status,
		Allowed:  allowed,
		Terminal: milestone.IsTerminal(status),
	})
}

// HandleGet handles GET /v1/milestones/{id}.
func (h *MilestoneHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, view)
}

// TransitionRequest is the body of POST /milestones/{id}/transition.
type TransitionRequest struct {
	Status string `json:"status" validate:"required,milestone_status"`
}

// HandleTransition handles POST /v1/milestones/{id}/transition.
func (h *MilestoneHandler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	view, err := h.service.Transition(r.Context(), actor, id, milestone.Normalize(req.Status))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "milestone transitioned",
		"milestone_id", id,
		"actor_id", actor.ID,
		"status", view.Status,
	)
	core.Data(w, r, http.StatusOK, view)
}

// HandleRetryPayout handles POST /v1/milestones/{id}/payout.
func (h *MilestoneHandler) HandleRetryPayout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	view, err := h.service.RetryPayout(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, view)
}
