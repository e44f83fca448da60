package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus enumerates the lifecycle states of a salon appointment.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a customer's reservation of a salon service.
type Booking struct {
	ID               string
	CustomerID       string
	ServiceName      string
	Status           BookingStatus
	Payment          PaymentRecord
	Currency         string
	PaymentProvider  string
	PaymentIntentID  string
	AppointmentStart time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CancelledAt      *time.Time
}

// Cancellation records a cancelled booking together with the refund that was issued.
type Cancellation struct {
	ID             string
	BookingID      string
	Status         CancellationStatus
	RefundPercent  decimal.Decimal
	RefundAmount   decimal.Decimal
	Currency       string
	Reason         string
	RequestedBy    string
	PolicyVersion  int
	RefundProvider string
	RefundID       string
	RefundedAt     *time.Time
	CancelledAt    time.Time
	CreatedAt      time.Time
}
