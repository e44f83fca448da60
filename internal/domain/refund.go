package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundScope selects which amount a refund percentage is applied to.
type RefundScope string

const (
	// RefundScopeDepositOnly applies refund percentages to the amount already captured.
	RefundScopeDepositOnly RefundScope = "deposit_only"
	// RefundScopeFull applies refund percentages to the full service price.
	RefundScopeFull RefundScope = "full"
)

// PaymentMode describes how a booking was paid for at checkout.
type PaymentMode string

const (
	PaymentModePayNow     PaymentMode = "pay_now"
	PaymentModeDeposit    PaymentMode = "deposit"
	PaymentModePayInSalon PaymentMode = "pay_in_salon"
)

// CancellationStatus classifies a cancelled booking by the refund it earned.
type CancellationStatus string

const (
	CancellationFullRefund    CancellationStatus = "cancelled_full_refund"
	CancellationPartialRefund CancellationStatus = "cancelled_partial_refund"
	CancellationNoRefund      CancellationStatus = "cancelled_no_refund"
)

// RefundPolicyConfig holds the thresholds used to classify a cancellation.
type RefundPolicyConfig struct {
	FreeCancelHours      float64
	NoRefundHours        float64
	PartialRefundPercent decimal.Decimal
	AppliesTo            RefundScope
	GraceMinutes         float64
	Currency             string
}

// DefaultRefundPolicyConfig returns the policy the salon ships with.
func DefaultRefundPolicyConfig() RefundPolicyConfig {
	return RefundPolicyConfig{
		FreeCancelHours:      24,
		NoRefundHours:        2,
		PartialRefundPercent: decimal.NewFromInt(50),
		AppliesTo:            RefundScopeDepositOnly,
		GraceMinutes:         15,
		Currency:             "gbp",
	}
}

// PaymentRecord captures what the customer was charged online for a booking.
type PaymentRecord struct {
	Mode       PaymentMode
	AmountPaid decimal.Decimal
	TotalPrice decimal.Decimal
}

// CancellationRequest carries the timing facts for a cancellation. A zero CancelledAt means now.
type CancellationRequest struct {
	BookingCreatedAt time.Time
	AppointmentStart time.Time
	CancelledAt      time.Time
}

// RefundOutcome is the computed refund classification for a cancellation.
type RefundOutcome struct {
	Status        CancellationStatus
	RefundPercent decimal.Decimal
	RefundAmount  decimal.Decimal
	RefundBase    decimal.Decimal
	Currency      string
	Reason        string
	HoursToStart  float64
	CancelledAt   time.Time
}

// RefundPolicy is the administered, persisted form of a policy configuration.
type RefundPolicy struct {
	Config    RefundPolicyConfig
	Summary   string
	Version   int
	UpdatedAt time.Time
	UpdatedBy string
}
