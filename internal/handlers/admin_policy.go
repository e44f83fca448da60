package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumiere-salon/api/internal/platform/httpx"
	"github.com/lumiere-salon/api/internal/services"
)

type updatePolicyRequest struct {
	policyConfigPayload
	Summary         string `json:"summary"`
	ExpectedVersion *int   `json:"expectedVersion,omitempty"`
}

// AdminPolicyHandlers lets staff read and replace the cancellation policy.
type AdminPolicyHandlers struct {
	policies    services.PolicyService
	idempotency func(http.Handler) http.Handler
}

// NewAdminPolicyHandlers constructs AdminPolicyHandlers. idempotency wraps the update route and may be nil.
func NewAdminPolicyHandlers(policies services.PolicyService, idempotency func(http.Handler) http.Handler) *AdminPolicyHandlers {
	return &AdminPolicyHandlers{policies: policies, idempotency: idempotency}
}

// Routes registers the /admin policy endpoints. The caller is responsible for the admin check.
func (h *AdminPolicyHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/cancellation-policy", h.getPolicy)
	if h.idempotency != nil {
		r.With(h.idempotency).Put("/cancellation-policy", h.updatePolicy)
		return
	}
	r.Put("/cancellation-policy", h.updatePolicy)
}

func (h *AdminPolicyHandlers) getPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.policies == nil {
		httpx.WriteError(ctx, w, httpx.NewError("policy_service_unavailable", "policy service unavailable", http.StatusServiceUnavailable))
		return
	}
	policy, err := h.policies.Current(ctx)
	if err != nil {
		writePolicyError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPolicyResponse(policy))
}

func (h *AdminPolicyHandlers) updatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.policies == nil {
		httpx.WriteError(ctx, w, httpx.NewError("policy_service_unavailable", "policy service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var payload updatePolicyRequest
	if err := decodeJSONBody(w, r, &payload, false); err != nil {
		writeInvalidRequest(w, r, err)
		return
	}

	current, err := h.policies.Current(ctx)
	if err != nil {
		writePolicyError(ctx, w, err)
		return
	}

	policy, err := h.policies.Update(ctx, services.UpdatePolicyCommand{
		Config:          payload.applyTo(current.Config),
		Summary:         payload.Summary,
		ActorID:         actor.ID,
		ExpectedVersion: payload.ExpectedVersion,
	})
	if err != nil {
		writePolicyError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newPolicyResponse(policy))
}

func writePolicyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPolicyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_policy", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrPolicyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("policy_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPolicyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "policy store is temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("policy_error", "failed to process policy request", http.StatusInternalServerError))
	}
}
