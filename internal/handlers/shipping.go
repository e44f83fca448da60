package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumiere-salon/api/internal/platform/httpx"
	"github.com/lumiere-salon/api/internal/services"
)

// ShippingHandlers exposes delivery estimates for retail carts.
type ShippingHandlers struct {
	shipping services.ShippingService
}

// NewShippingHandlers constructs ShippingHandlers.
func NewShippingHandlers(shipping services.ShippingService) *ShippingHandlers {
	return &ShippingHandlers{shipping: shipping}
}

// Routes registers the /shipping endpoints.
func (h *ShippingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/estimate", h.estimate)
}

func (h *ShippingHandlers) estimate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shipping == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_service_unavailable", "shipping service unavailable", http.StatusServiceUnavailable))
		return
	}

	var payload shippingEstimateRequest
	if err := decodeJSONBody(w, r, &payload, false); err != nil {
		writeInvalidRequest(w, r, err)
		return
	}

	quote, err := h.shipping.Quote(ctx, payload.toCommand())
	if err != nil {
		if errors.Is(err, services.ErrShippingInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("shipping_error", "failed to estimate shipping", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, newShippingQuoteResponse(quote))
}
