package services

import (
	"context"
	"time"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	RefundPolicy       = domain.RefundPolicy
	RefundPolicyConfig = domain.RefundPolicyConfig
	RefundOutcome      = domain.RefundOutcome
	PaymentRecord      = domain.PaymentRecord
	Booking            = domain.Booking
	Cancellation       = domain.Cancellation
	CartItem           = domain.CartItem
	ShippingQuote      = domain.ShippingQuote
)

// PolicyService exposes the administered cancellation policy.
type PolicyService interface {
	Current(ctx context.Context) (RefundPolicy, error)
	Update(ctx context.Context, cmd UpdatePolicyCommand) (RefundPolicy, error)
}

// CancellationService previews and executes booking cancellations under the current policy.
type CancellationService interface {
	Preview(ctx context.Context, cmd PreviewCancellationCommand) (RefundOutcome, error)
	Cancel(ctx context.Context, cmd CancelBookingCommand) (CancellationResult, error)
	History(ctx context.Context, query CancellationHistoryQuery) ([]Cancellation, error)
}

// ShippingService quotes delivery options for a retail cart.
type ShippingService interface {
	Quote(ctx context.Context, cmd ShippingQuoteCommand) (ShippingQuote, error)
}

// CancellationEventPublisher emits booking cancellation events for downstream consumers.
type CancellationEventPublisher interface {
	PublishCancellationEvent(ctx context.Context, event CancellationEvent) error
}

// MetricsRecorder receives business measurements. *observability.Metrics satisfies it.
type MetricsRecorder interface {
	RecordRefundOutcome(ctx context.Context, status, currency string, amount float64)
	RecordShippingQuote(ctx context.Context, region string)
}

// refundManager abstracts payments.Manager for easier testing.
type refundManager interface {
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.RefundDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

type UpdatePolicyCommand struct {
	Config          RefundPolicyConfig
	Summary         string
	ActorID         string
	ExpectedVersion *int
}

// PreviewCancellationCommand previews either a stored booking (BookingID) or inline payment and timing facts.
// PolicyOverride replaces the current policy for what-if previews.
type PreviewCancellationCommand struct {
	BookingID        string
	ActorID          string
	Admin            bool
	Payment          *PaymentRecord
	BookingCreatedAt time.Time
	AppointmentStart time.Time
	CancelledAt      time.Time
	PolicyOverride   *RefundPolicyConfig
}

type CancelBookingCommand struct {
	BookingID string
	ActorID   string
	Admin     bool
	Reason    string
}

type CancellationHistoryQuery struct {
	BookingID string
	ActorID   string
	Admin     bool
}

// CancellationResult is the persisted cancellation and the refund that was issued for it.
type CancellationResult struct {
	Booking      Booking
	Cancellation Cancellation
	Outcome      RefundOutcome
	Refund       *payments.RefundDetails
}

type ShippingQuoteCommand struct {
	Items       []CartItem
	Currency    string
	CountryCode string
}

// CancellationEvent is the payload published when a booking is cancelled.
type CancellationEvent struct {
	Type           string    `json:"type"`
	BookingID      string    `json:"bookingId"`
	CancellationID string    `json:"cancellationId"`
	CustomerID     string    `json:"customerId,omitempty"`
	Status         string    `json:"status"`
	RefundPercent  string    `json:"refundPercent"`
	RefundAmount   string    `json:"refundAmount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason"`
	RefundID       string    `json:"refundId,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	CustomerNote   string    `json:"customerNote,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
