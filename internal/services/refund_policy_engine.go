package services

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/money"
)

var (
	// ErrRefundPolicyInvalidConfig signals a policy whose thresholds cannot classify cancellations consistently.
	ErrRefundPolicyInvalidConfig = errors.New("refund policy: invalid configuration")
	// ErrRefundPolicyInvalidInput signals missing or inconsistent payment/timing facts.
	ErrRefundPolicyInvalidInput = errors.New("refund policy: invalid input")
)

const (
	refundReasonGracePeriod   = "grace_period"
	refundReasonPayInSalon    = "pay_in_salon"
	refundReasonFreeWindow    = "free_cancellation_window"
	refundReasonPartialWindow = "partial_refund_window"
	refundReasonNoRefund      = "no_refund_window"
)

var (
	percentNone = decimal.Zero
	percentFull = decimal.NewFromInt(100)
)

// RefundPolicyEngine classifies cancellations. It only reads the clock when a request omits CancelledAt.
type RefundPolicyEngine struct {
	now func() time.Time
}

// NewRefundPolicyEngine constructs an engine using the supplied clock, defaulting to time.Now.
func NewRefundPolicyEngine(now func() time.Time) *RefundPolicyEngine {
	if now == nil {
		now = time.Now
	}
	return &RefundPolicyEngine{
		now: func() time.Time {
			return now().UTC()
		},
	}
}

// Compute fills in a missing cancellation time and delegates to ComputeOutcome.
func (e *RefundPolicyEngine) Compute(cfg domain.RefundPolicyConfig, payment domain.PaymentRecord, req domain.CancellationRequest) (domain.RefundOutcome, error) {
	if req.CancelledAt.IsZero() {
		req.CancelledAt = e.now()
	}
	return ComputeOutcome(cfg, payment, req)
}

// ComputeOutcome classifies a cancellation and computes the refund owed. The grace period after booking
// creation takes priority over every time-to-appointment rule.
func ComputeOutcome(cfg domain.RefundPolicyConfig, payment domain.PaymentRecord, req domain.CancellationRequest) (domain.RefundOutcome, error) {
	if err := ValidateRefundPolicyConfig(cfg); err != nil {
		return domain.RefundOutcome{}, err
	}
	if err := validateRefundInput(payment, req); err != nil {
		return domain.RefundOutcome{}, err
	}

	currency := money.NormalizeCurrency(cfg.Currency)
	paid := payment.AmountPaid
	cancelledAt := req.CancelledAt.UTC()

	hoursToStart := req.AppointmentStart.Sub(req.CancelledAt).Hours()
	if hoursToStart < 0 {
		hoursToStart = 0
	}

	outcome := domain.RefundOutcome{
		Currency:     currency,
		HoursToStart: hoursToStart,
		CancelledAt:  cancelledAt,
	}

	minutesSinceBooking := req.CancelledAt.Sub(req.BookingCreatedAt).Minutes()
	if minutesSinceBooking <= cfg.GraceMinutes {
		outcome.Status = domain.CancellationFullRefund
		outcome.RefundPercent = percentFull
		outcome.RefundBase = paid
		outcome.RefundAmount = money.Round(paid, currency)
		outcome.Reason = refundReasonGracePeriod
		return outcome, nil
	}

	if payment.Mode == domain.PaymentModePayInSalon {
		outcome.Status = domain.CancellationNoRefund
		outcome.RefundPercent = percentNone
		outcome.RefundBase = decimal.Zero
		outcome.RefundAmount = decimal.Zero
		outcome.Reason = refundReasonPayInSalon
		return outcome, nil
	}

	base := paid
	if cfg.AppliesTo == domain.RefundScopeFull && payment.Mode != domain.PaymentModeDeposit {
		base = payment.TotalPrice
	}
	outcome.RefundBase = base

	switch {
	case hoursToStart >= cfg.FreeCancelHours:
		outcome.Status = domain.CancellationFullRefund
		outcome.RefundPercent = percentFull
		outcome.Reason = refundReasonFreeWindow
	case hoursToStart < cfg.NoRefundHours:
		outcome.Status = domain.CancellationNoRefund
		outcome.RefundPercent = percentNone
		outcome.Reason = refundReasonNoRefund
	default:
		outcome.Status = domain.CancellationPartialRefund
		outcome.RefundPercent = cfg.PartialRefundPercent
		outcome.Reason = refundReasonPartialWindow
	}

	amount := money.Percent(base, outcome.RefundPercent, currency)
	if amount.GreaterThan(paid) {
		amount = money.Round(paid, currency)
	}
	outcome.RefundAmount = amount
	return outcome, nil
}

// ValidateRefundPolicyConfig checks the invariants every policy must satisfy before it can be used.
func ValidateRefundPolicyConfig(cfg domain.RefundPolicyConfig) error {
	if !isFinite(cfg.FreeCancelHours) || !isFinite(cfg.NoRefundHours) || !isFinite(cfg.GraceMinutes) {
		return fmt.Errorf("%w: thresholds must be finite numbers", ErrRefundPolicyInvalidConfig)
	}
	if cfg.NoRefundHours < 0 {
		return fmt.Errorf("%w: noRefundHours must be >= 0", ErrRefundPolicyInvalidConfig)
	}
	if cfg.NoRefundHours >= cfg.FreeCancelHours {
		return fmt.Errorf("%w: noRefundHours (%g) must be less than freeCancelHours (%g)", ErrRefundPolicyInvalidConfig, cfg.NoRefundHours, cfg.FreeCancelHours)
	}
	if cfg.PartialRefundPercent.IsNegative() || cfg.PartialRefundPercent.GreaterThan(percentFull) {
		return fmt.Errorf("%w: partialRefundPercent must be between 0 and 100", ErrRefundPolicyInvalidConfig)
	}
	if cfg.GraceMinutes < 0 {
		return fmt.Errorf("%w: graceMinutes must be >= 0", ErrRefundPolicyInvalidConfig)
	}
	switch cfg.AppliesTo {
	case domain.RefundScopeDepositOnly, domain.RefundScopeFull:
	default:
		return fmt.Errorf("%w: appliesTo %q is not supported", ErrRefundPolicyInvalidConfig, cfg.AppliesTo)
	}
	if !money.IsKnownCurrency(cfg.Currency) {
		return fmt.Errorf("%w: currency %q is not a recognised ISO 4217 code", ErrRefundPolicyInvalidConfig, cfg.Currency)
	}
	return nil
}

func validateRefundInput(payment domain.PaymentRecord, req domain.CancellationRequest) error {
	switch payment.Mode {
	case domain.PaymentModePayNow, domain.PaymentModeDeposit, domain.PaymentModePayInSalon:
	default:
		return fmt.Errorf("%w: payment mode %q is not supported", ErrRefundPolicyInvalidInput, payment.Mode)
	}
	if payment.AmountPaid.IsNegative() {
		return fmt.Errorf("%w: amountPaid must be >= 0", ErrRefundPolicyInvalidInput)
	}
	if payment.TotalPrice.IsNegative() {
		return fmt.Errorf("%w: totalPrice must be >= 0", ErrRefundPolicyInvalidInput)
	}
	if req.BookingCreatedAt.IsZero() {
		return fmt.Errorf("%w: bookingCreatedAt is required", ErrRefundPolicyInvalidInput)
	}
	if req.AppointmentStart.IsZero() {
		return fmt.Errorf("%w: appointmentStart is required", ErrRefundPolicyInvalidInput)
	}
	if req.CancelledAt.IsZero() {
		return fmt.Errorf("%w: cancelledAt is required", ErrRefundPolicyInvalidInput)
	}
	if req.CancelledAt.Before(req.BookingCreatedAt) {
		return fmt.Errorf("%w: cancelledAt precedes bookingCreatedAt", ErrRefundPolicyInvalidInput)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
