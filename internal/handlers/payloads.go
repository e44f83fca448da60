package handlers

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/payments"
	"github.com/lumiere-salon/api/internal/platform/money"
	"github.com/lumiere-salon/api/internal/services"
)

// policyConfigPayload is the wire form of a refund policy. Omitted fields keep the value of the policy it
// is applied to.
type policyConfigPayload struct {
	FreeCancelHours      *float64         `json:"freeCancelHours,omitempty"`
	NoRefundHours        *float64         `json:"noRefundHours,omitempty"`
	PartialRefundPercent *decimal.Decimal `json:"partialRefundPercent,omitempty"`
	AppliesTo            string           `json:"appliesTo,omitempty"`
	GraceMinutes         *float64         `json:"graceMinutes,omitempty"`
	Currency             string           `json:"currency,omitempty"`
}

func (p policyConfigPayload) applyTo(base services.RefundPolicyConfig) services.RefundPolicyConfig {
	cfg := base
	if p.FreeCancelHours != nil {
		cfg.FreeCancelHours = *p.FreeCancelHours
	}
	if p.NoRefundHours != nil {
		cfg.NoRefundHours = *p.NoRefundHours
	}
	if p.PartialRefundPercent != nil {
		cfg.PartialRefundPercent = *p.PartialRefundPercent
	}
	if scope := strings.TrimSpace(p.AppliesTo); scope != "" {
		cfg.AppliesTo = domain.RefundScope(strings.ToLower(scope))
	}
	if p.GraceMinutes != nil {
		cfg.GraceMinutes = *p.GraceMinutes
	}
	if currency := strings.TrimSpace(p.Currency); currency != "" {
		cfg.Currency = money.NormalizeCurrency(currency)
	}
	return cfg
}

type policyConfigResponse struct {
	FreeCancelHours      float64 `json:"freeCancelHours"`
	NoRefundHours        float64 `json:"noRefundHours"`
	PartialRefundPercent string  `json:"partialRefundPercent"`
	AppliesTo            string  `json:"appliesTo"`
	GraceMinutes         float64 `json:"graceMinutes"`
	Currency             string  `json:"currency"`
}

func newPolicyConfigResponse(cfg services.RefundPolicyConfig) policyConfigResponse {
	return policyConfigResponse{
		FreeCancelHours:      cfg.FreeCancelHours,
		NoRefundHours:        cfg.NoRefundHours,
		PartialRefundPercent: cfg.PartialRefundPercent.String(),
		AppliesTo:            string(cfg.AppliesTo),
		GraceMinutes:         cfg.GraceMinutes,
		Currency:             cfg.Currency,
	}
}

type paymentPayload struct {
	Mode       string          `json:"mode"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

func (p paymentPayload) toRecord() services.PaymentRecord {
	return services.PaymentRecord{
		Mode:       domain.PaymentMode(strings.ToLower(strings.TrimSpace(p.Mode))),
		AmountPaid: p.AmountPaid,
		TotalPrice: p.TotalPrice,
	}
}

type refundOutcomeResponse struct {
	Status        string  `json:"status"`
	RefundPercent string  `json:"refundPercent"`
	RefundAmount  string  `json:"refundAmount"`
	RefundBase    string  `json:"refundBase"`
	Currency      string  `json:"currency"`
	Reason        string  `json:"reason"`
	HoursToStart  float64 `json:"hoursToStart"`
	CancelledAt   string  `json:"cancelledAt"`
}

func newRefundOutcomeResponse(outcome services.RefundOutcome) refundOutcomeResponse {
	return refundOutcomeResponse{
		Status:        string(outcome.Status),
		RefundPercent: outcome.RefundPercent.String(),
		RefundAmount:  money.Format(outcome.RefundAmount, outcome.Currency),
		RefundBase:    money.Format(outcome.RefundBase, outcome.Currency),
		Currency:      outcome.Currency,
		Reason:        outcome.Reason,
		HoursToStart:  math.Round(outcome.HoursToStart*100) / 100,
		CancelledAt:   formatTime(outcome.CancelledAt),
	}
}

type bookingResponse struct {
	ID               string  `json:"id"`
	Status           string  `json:"status"`
	AppointmentStart string  `json:"appointmentStart"`
	CancelledAt      *string `json:"cancelledAt,omitempty"`
}

type cancellationResponse struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	RefundPercent string  `json:"refundPercent"`
	RefundAmount  string  `json:"refundAmount"`
	Currency      string  `json:"currency"`
	Reason        string  `json:"reason"`
	PolicyVersion int     `json:"policyVersion"`
	RefundID      string  `json:"refundId,omitempty"`
	RefundedAt    *string `json:"refundedAt,omitempty"`
	CancelledAt   string  `json:"cancelledAt"`
}

type refundResponse struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type cancelBookingResponse struct {
	Booking      bookingResponse       `json:"booking"`
	Cancellation cancellationResponse  `json:"cancellation"`
	Outcome      refundOutcomeResponse `json:"outcome"`
	Refund       *refundResponse       `json:"refund,omitempty"`
}

func newCancellationResponse(c services.Cancellation) cancellationResponse {
	return cancellationResponse{
		ID:            c.ID,
		Status:        string(c.Status),
		RefundPercent: c.RefundPercent.String(),
		RefundAmount:  money.Format(c.RefundAmount, c.Currency),
		Currency:      c.Currency,
		Reason:        c.Reason,
		PolicyVersion: c.PolicyVersion,
		RefundID:      c.RefundID,
		RefundedAt:    formatTimePtr(c.RefundedAt),
		CancelledAt:   formatTime(c.CancelledAt),
	}
}

type cancellationHistoryResponse struct {
	BookingID     string                 `json:"bookingId"`
	Cancellations []cancellationResponse `json:"cancellations"`
}

func newCancellationHistoryResponse(bookingID string, list []services.Cancellation) cancellationHistoryResponse {
	resp := cancellationHistoryResponse{
		BookingID:     bookingID,
		Cancellations: make([]cancellationResponse, 0, len(list)),
	}
	for _, c := range list {
		resp.Cancellations = append(resp.Cancellations, newCancellationResponse(c))
	}
	return resp
}

func newCancelBookingResponse(result services.CancellationResult) cancelBookingResponse {
	resp := cancelBookingResponse{
		Booking: bookingResponse{
			ID:               result.Booking.ID,
			Status:           string(result.Booking.Status),
			AppointmentStart: formatTime(result.Booking.AppointmentStart),
			CancelledAt:      formatTimePtr(result.Booking.CancelledAt),
		},
		Cancellation: newCancellationResponse(result.Cancellation),
		Outcome:      newRefundOutcomeResponse(result.Outcome),
	}
	if result.Refund != nil {
		resp.Refund = newRefundResponse(*result.Refund)
	}
	return resp
}

func newRefundResponse(refund payments.RefundDetails) *refundResponse {
	currency := money.NormalizeCurrency(refund.Currency)
	return &refundResponse{
		Provider: refund.Provider,
		ID:       refund.RefundID,
		Status:   string(refund.Status),
		Amount:   money.Format(money.FromMinorUnits(refund.Amount, currency), currency),
		Currency: currency,
	}
}

type cartItemPayload struct {
	SKU      string           `json:"sku"`
	WeightKg *decimal.Decimal `json:"weightKg,omitempty"`
	Quantity int              `json:"quantity"`
}

type shippingEstimateRequest struct {
	Items       []cartItemPayload `json:"items"`
	Currency    string            `json:"currency"`
	CountryCode string            `json:"countryCode"`
}

func (r shippingEstimateRequest) toCommand() services.ShippingQuoteCommand {
	items := make([]services.CartItem, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, services.CartItem{
			SKU:      strings.TrimSpace(item.SKU),
			WeightKg: item.WeightKg,
			Quantity: item.Quantity,
		})
	}
	return services.ShippingQuoteCommand{
		Items:       items,
		Currency:    strings.TrimSpace(r.Currency),
		CountryCode: strings.TrimSpace(r.CountryCode),
	}
}

type shippingOptionResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         string `json:"price"`
	EstimatedDays string `json:"estimatedDays"`
	Description   string `json:"description,omitempty"`
	IsCollection  bool   `json:"isCollection"`
}

type shippingQuoteResponse struct {
	Region            string                   `json:"region"`
	Currency          string                   `json:"currency"`
	TotalItems        int                      `json:"totalItems"`
	ProductWeightKg   string                   `json:"productWeightKg"`
	PackagingWeightKg string                   `json:"packagingWeightKg"`
	TotalWeightKg     string                   `json:"totalWeightKg"`
	Options           []shippingOptionResponse `json:"options"`
	CheapestOptionID  string                   `json:"cheapestOptionId,omitempty"`
}

func newShippingQuoteResponse(quote services.ShippingQuote) shippingQuoteResponse {
	options := make([]shippingOptionResponse, 0, len(quote.Options))
	for _, option := range quote.Options {
		options = append(options, shippingOptionResponse{
			ID:            option.ID,
			Name:          option.Name,
			Price:         money.Format(option.Price, quote.Currency),
			EstimatedDays: option.EstimatedDays,
			Description:   option.Description,
			IsCollection:  option.IsCollection,
		})
	}
	resp := shippingQuoteResponse{
		Region:            string(quote.Region),
		Currency:          quote.Currency,
		TotalItems:        quote.TotalItems,
		ProductWeightKg:   quote.ProductWeightKg.String(),
		PackagingWeightKg: quote.PackagingWeightKg.String(),
		TotalWeightKg:     quote.TotalWeightKg.String(),
		Options:           options,
	}
	if cheapest, ok := services.CheapestShippingOption(quote); ok {
		resp.CheapestOptionID = cheapest.ID
	}
	return resp
}

type policyResponse struct {
	Version   int                  `json:"version"`
	Summary   string               `json:"summary,omitempty"`
	Config    policyConfigResponse `json:"config"`
	UpdatedAt string               `json:"updatedAt,omitempty"`
	UpdatedBy string               `json:"updatedBy,omitempty"`
}

func newPolicyResponse(policy services.RefundPolicy) policyResponse {
	return policyResponse{
		Version:   policy.Version,
		Summary:   policy.Summary,
		Config:    newPolicyConfigResponse(policy.Config),
		UpdatedAt: formatTime(policy.UpdatedAt),
		UpdatedBy: policy.UpdatedBy,
	}
}
