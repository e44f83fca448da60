package gormrepo

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/lumiere-salon/api/internal/domain"
)

// Money columns are stored as decimal strings so SQLite and PostgreSQL round-trip identically.

type policyRecord struct {
	ID                   uint            `gorm:"primaryKey"`
	Version              int             `gorm:"uniqueIndex;not null"`
	FreeCancelHours      float64         `gorm:"not null"`
	NoRefundHours        float64         `gorm:"not null"`
	PartialRefundPercent decimal.Decimal `gorm:"type:varchar(16);not null"`
	AppliesTo            string          `gorm:"type:varchar(32);not null"`
	GraceMinutes         float64         `gorm:"not null"`
	Currency             string          `gorm:"type:varchar(3);not null"`
	Summary              string          `gorm:"type:text"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime:false"`
	UpdatedBy            string          `gorm:"type:varchar(128)"`
}

func (policyRecord) TableName() string { return "refund_policies" }

func policyRecordFromDomain(policy domain.RefundPolicy) policyRecord {
	cfg := policy.Config
	return policyRecord{
		Version:              policy.Version,
		FreeCancelHours:      cfg.FreeCancelHours,
		NoRefundHours:        cfg.NoRefundHours,
		PartialRefundPercent: cfg.PartialRefundPercent,
		AppliesTo:            string(cfg.AppliesTo),
		GraceMinutes:         cfg.GraceMinutes,
		Currency:             cfg.Currency,
		Summary:              policy.Summary,
		UpdatedAt:            policy.UpdatedAt.UTC(),
		UpdatedBy:            policy.UpdatedBy,
	}
}

func (r policyRecord) toDomain() domain.RefundPolicy {
	return domain.RefundPolicy{
		Config: domain.RefundPolicyConfig{
			FreeCancelHours:      r.FreeCancelHours,
			NoRefundHours:        r.NoRefundHours,
			PartialRefundPercent: r.PartialRefundPercent,
			AppliesTo:            domain.RefundScope(r.AppliesTo),
			GraceMinutes:         r.GraceMinutes,
			Currency:             r.Currency,
		},
		Summary:   r.Summary,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt.UTC(),
		UpdatedBy: r.UpdatedBy,
	}
}

type bookingRecord struct {
	ID               string          `gorm:"primaryKey;type:varchar(64)"`
	CustomerID       string          `gorm:"index;type:varchar(128)"`
	ServiceName      string          `gorm:"type:varchar(255)"`
	Status           string          `gorm:"index;type:varchar(32);not null"`
	PaymentMode      string          `gorm:"type:varchar(32);not null"`
	AmountPaid       decimal.Decimal `gorm:"type:varchar(32);not null"`
	TotalPrice       decimal.Decimal `gorm:"type:varchar(32);not null"`
	Currency         string          `gorm:"type:varchar(3);not null"`
	PaymentProvider  string          `gorm:"type:varchar(32)"`
	PaymentIntentID  string          `gorm:"type:varchar(128)"`
	AppointmentStart time.Time       `gorm:"not null"`
	CreatedAt        time.Time       `gorm:"autoCreateTime:false"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime:false"`
	CancelledAt      *time.Time
}

func (bookingRecord) TableName() string { return "bookings" }

func bookingRecordFromDomain(booking domain.Booking) bookingRecord {
	return bookingRecord{
		ID:               booking.ID,
		CustomerID:       booking.CustomerID,
		ServiceName:      booking.ServiceName,
		Status:           string(booking.Status),
		PaymentMode:      string(booking.Payment.Mode),
		AmountPaid:       booking.Payment.AmountPaid,
		TotalPrice:       booking.Payment.TotalPrice,
		Currency:         booking.Currency,
		PaymentProvider:  booking.PaymentProvider,
		PaymentIntentID:  booking.PaymentIntentID,
		AppointmentStart: booking.AppointmentStart.UTC(),
		CreatedAt:        booking.CreatedAt.UTC(),
		UpdatedAt:        booking.UpdatedAt.UTC(),
		CancelledAt:      utcPtr(booking.CancelledAt),
	}
}

func (r bookingRecord) toDomain() domain.Booking {
	return domain.Booking{
		ID:          r.ID,
		CustomerID:  r.CustomerID,
		ServiceName: r.ServiceName,
		Status:      domain.BookingStatus(r.Status),
		Payment: domain.PaymentRecord{
			Mode:       domain.PaymentMode(r.PaymentMode),
			AmountPaid: r.AmountPaid,
			TotalPrice: r.TotalPrice,
		},
		Currency:         r.Currency,
		PaymentProvider:  r.PaymentProvider,
		PaymentIntentID:  r.PaymentIntentID,
		AppointmentStart: r.AppointmentStart.UTC(),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
		CancelledAt:      utcPtr(r.CancelledAt),
	}
}

type cancellationRecord struct {
	ID             string          `gorm:"primaryKey;type:varchar(64)"`
	BookingID      string          `gorm:"index;type:varchar(64);not null"`
	Status         string          `gorm:"type:varchar(32);not null"`
	RefundPercent  decimal.Decimal `gorm:"type:varchar(16);not null"`
	RefundAmount   decimal.Decimal `gorm:"type:varchar(32);not null"`
	Currency       string          `gorm:"type:varchar(3);not null"`
	Reason         string          `gorm:"type:varchar(64)"`
	RequestedBy    string          `gorm:"type:varchar(128)"`
	PolicyVersion  int
	RefundProvider string `gorm:"type:varchar(32)"`
	RefundID       string `gorm:"type:varchar(128)"`
	RefundedAt     *time.Time
	CancelledAt    time.Time `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
}

func (cancellationRecord) TableName() string { return "cancellations" }

func cancellationRecordFromDomain(c domain.Cancellation) cancellationRecord {
	return cancellationRecord{
		ID:             c.ID,
		BookingID:      c.BookingID,
		Status:         string(c.Status),
		RefundPercent:  c.RefundPercent,
		RefundAmount:   c.RefundAmount,
		Currency:       c.Currency,
		Reason:         c.Reason,
		RequestedBy:    c.RequestedBy,
		PolicyVersion:  c.PolicyVersion,
		RefundProvider: c.RefundProvider,
		RefundID:       c.RefundID,
		RefundedAt:     utcPtr(c.RefundedAt),
		CancelledAt:    c.CancelledAt.UTC(),
		CreatedAt:      c.CreatedAt.UTC(),
	}
}

func (r cancellationRecord) toDomain() domain.Cancellation {
	return domain.Cancellation{
		ID:             r.ID,
		BookingID:      r.BookingID,
		Status:         domain.CancellationStatus(r.Status),
		RefundPercent:  r.RefundPercent,
		RefundAmount:   r.RefundAmount,
		Currency:       r.Currency,
		Reason:         r.Reason,
		RequestedBy:    r.RequestedBy,
		PolicyVersion:  r.PolicyVersion,
		RefundProvider: r.RefundProvider,
		RefundID:       r.RefundID,
		RefundedAt:     utcPtr(r.RefundedAt),
		CancelledAt:    r.CancelledAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
