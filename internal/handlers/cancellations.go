package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/lumiere-salon/api/internal/platform/httpx"
	"github.com/lumiere-salon/api/internal/services"
)

const maxCancelReasonLength = 500

type refundPreviewRequest struct {
	BookingID        string               `json:"bookingId,omitempty"`
	Payment          *paymentPayload      `json:"payment,omitempty"`
	BookingCreatedAt string               `json:"bookingCreatedAt,omitempty"`
	AppointmentStart string               `json:"appointmentStart,omitempty"`
	CancelledAt      string               `json:"cancelledAt,omitempty"`
	Policy           *policyConfigPayload `json:"policy,omitempty"`
}

type cancelBookingRequest struct {
	Reason string `json:"reason"`
}

// CancellationHandlers exposes refund previews and booking cancellation.
type CancellationHandlers struct {
	cancellations services.CancellationService
	policies      services.PolicyService
	idempotency   func(http.Handler) http.Handler
}

// NewCancellationHandlers constructs CancellationHandlers. idempotency wraps the cancel route and may be nil.
func NewCancellationHandlers(cancellations services.CancellationService, policies services.PolicyService, idempotency func(http.Handler) http.Handler) *CancellationHandlers {
	return &CancellationHandlers{
		cancellations: cancellations,
		policies:      policies,
		idempotency:   idempotency,
	}
}

// RefundRoutes registers the /refunds endpoints.
func (h *CancellationHandlers) RefundRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/preview", h.previewRefund)
}

// BookingRoutes registers the /bookings endpoints.
func (h *CancellationHandlers) BookingRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{bookingId}/refund-preview", h.previewBookingRefund)
	r.Get("/{bookingId}/cancellations", h.listCancellations)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/{bookingId}/cancel", h.cancelBooking)
		return
	}
	r.Post("/{bookingId}/cancel", h.cancelBooking)
}

func (h *CancellationHandlers) previewRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_service_unavailable", "cancellation service unavailable", http.StatusServiceUnavailable))
		return
	}

	var payload refundPreviewRequest
	if err := decodeJSONBody(w, r, &payload, false); err != nil {
		writeInvalidRequest(w, r, err)
		return
	}

	actor, authenticated := actorFrom(r)
	cmd := services.PreviewCancellationCommand{
		BookingID: strings.TrimSpace(payload.BookingID),
		ActorID:   actor.ID,
		Admin:     actor.Admin,
	}
	if cmd.BookingID != "" && !authenticated {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var err error
	if cmd.CancelledAt, err = parseOptionalTime("cancelledAt", payload.CancelledAt); err != nil {
		writeInvalidRequest(w, r, err)
		return
	}
	if cmd.BookingID == "" {
		if payload.Payment == nil {
			writeInvalidRequest(w, r, errors.New("bookingId or payment is required"))
			return
		}
		record := payload.Payment.toRecord()
		cmd.Payment = &record
		if cmd.BookingCreatedAt, err = parseRequiredTime("bookingCreatedAt", payload.BookingCreatedAt); err != nil {
			writeInvalidRequest(w, r, err)
			return
		}
		if cmd.AppointmentStart, err = parseRequiredTime("appointmentStart", payload.AppointmentStart); err != nil {
			writeInvalidRequest(w, r, err)
			return
		}
	}

	if payload.Policy != nil {
		if !actor.Admin {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "policy overrides require staff access", http.StatusForbidden))
			return
		}
		override, err := h.policyOverride(ctx, *payload.Policy)
		if err != nil {
			writeCancellationError(ctx, w, err)
			return
		}
		cmd.PolicyOverride = &override
	}

	outcome, err := h.cancellations.Preview(ctx, cmd)
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRefundOutcomeResponse(outcome))
}

func (h *CancellationHandlers) previewBookingRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_service_unavailable", "cancellation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingId"))
	if bookingID == "" {
		writeInvalidRequest(w, r, invalidField("bookingId", "is required"))
		return
	}

	outcome, err := h.cancellations.Preview(ctx, services.PreviewCancellationCommand{
		BookingID: bookingID,
		ActorID:   actor.ID,
		Admin:     actor.Admin,
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newRefundOutcomeResponse(outcome))
}

func (h *CancellationHandlers) listCancellations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_service_unavailable", "cancellation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingId"))

	list, err := h.cancellations.History(ctx, services.CancellationHistoryQuery{
		BookingID: bookingID,
		ActorID:   actor.ID,
		Admin:     actor.Admin,
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCancellationHistoryResponse(bookingID, list))
}

func (h *CancellationHandlers) cancelBooking(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cancellations == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_service_unavailable", "cancellation service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := actorFrom(r)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	bookingID := strings.TrimSpace(chi.URLParam(r, "bookingId"))
	if bookingID == "" {
		writeInvalidRequest(w, r, invalidField("bookingId", "is required"))
		return
	}

	var payload cancelBookingRequest
	if err := decodeJSONBody(w, r, &payload, true); err != nil {
		writeInvalidRequest(w, r, err)
		return
	}
	reason := strings.TrimSpace(payload.Reason)
	if utf8.RuneCountInString(reason) > maxCancelReasonLength {
		writeInvalidRequest(w, r, invalidField("reason", "must be 500 characters or fewer"))
		return
	}

	result, err := h.cancellations.Cancel(ctx, services.CancelBookingCommand{
		BookingID: bookingID,
		ActorID:   actor.ID,
		Admin:     actor.Admin,
		Reason:    reason,
	})
	if err != nil {
		writeCancellationError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newCancelBookingResponse(result))
}

func (h *CancellationHandlers) policyOverride(ctx context.Context, payload policyConfigPayload) (services.RefundPolicyConfig, error) {
	if h.policies == nil {
		return services.RefundPolicyConfig{}, services.ErrPolicyUnavailable
	}
	current, err := h.policies.Current(ctx)
	if err != nil {
		return services.RefundPolicyConfig{}, err
	}
	return payload.applyTo(current.Config), nil
}

func writeCancellationError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrRefundPolicyInvalidConfig):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_policy", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCancellationInvalidInput), errors.Is(err, services.ErrRefundPolicyInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCancellationNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("booking_not_found", "booking not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCancellationInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("booking_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCancellationConflict), errors.Is(err, services.ErrPolicyConflict):
		httpx.WriteError(ctx, w, httpx.NewError("booking_conflict", "booking changed while it was being cancelled", http.StatusConflict))
	case errors.Is(err, services.ErrCancellationRefundFailed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", "the refund could not be issued; the booking was not cancelled", http.StatusBadGateway))
	case errors.Is(err, services.ErrCancellationUnavailable), errors.Is(err, services.ErrPolicyUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "cancellations are temporarily unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_error", "failed to process cancellation request", http.StatusInternalServerError))
	}
}
