package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a PSP payment state mapped onto a provider-neutral vocabulary.
type Status string

const (
	StatusPending           Status = "pending"
	StatusSucceeded         Status = "succeeded"
	StatusFailed            Status = "failed"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// RefundStatus enumerates the normalised states of a single refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// RefundRequest defines a PSP refund attempt. Amount is expressed in the currency's minor units.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Currency       string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundDetails describes the refund object the PSP created.
type RefundDetails struct {
	Provider  string
	RefundID  string
	IntentID  string
	Status    RefundStatus
	Amount    int64
	Currency  string
	CreatedAt time.Time
}

// LookupRequest returns provider specific payment details for reconciliation.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises PSP specific fields for a captured payment.
type PaymentDetails struct {
	Provider       string
	IntentID       string
	Status         Status
	Amount         int64
	AmountRefunded int64
	// LatestRefundID is the most recent refund against the payment, when the PSP reports one.
	LatestRefundID string
	Currency       string
	Captured       bool
	CapturedAt     *time.Time
}

// Refundable returns the minor-unit amount still available to refund.
func (d PaymentDetails) Refundable() int64 {
	if !d.Captured {
		return 0
	}
	remaining := d.Amount - d.AmountRefunded
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	Refund(ctx context.Context, req RefundRequest) (RefundDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
}

// Manager routes refund calls to the PSP that took the booking payment.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when a booking does not record one.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) { m.defaultProvider = providerKey(provider) }
}

// NewManager registers providers under lower-cased keys. "stripe" is the default when registered.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	m := &Manager{providers: make(map[string]Provider, len(providers))}
	for name, p := range providers {
		key := providerKey(name)
		if key == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", name)
		}
		m.providers[key] = p
	}
	if _, ok := m.providers["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext carries the booking facts used to pick a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

// resolve tries the booking's provider, then the default, then the only registered provider.
func (m *Manager) resolve(pc PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	for _, key := range []string{providerKey(pc.PreferredProvider), m.defaultProvider} {
		if p, ok := m.providers[key]; ok && key != "" {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, pc.PreferredProvider)
}

// Refund delegates to the resolved provider and stamps the provider key on the result.
func (m *Manager) Refund(ctx context.Context, pc PaymentContext, req RefundRequest) (RefundDetails, error) {
	key, provider, err := m.resolve(pc)
	if err != nil {
		return RefundDetails{}, err
	}
	details, err := provider.Refund(ctx, req)
	if err != nil {
		return RefundDetails{}, err
	}
	details.Provider = key
	return details, nil
}

// LookupPayment delegates to the resolved provider.
func (m *Manager) LookupPayment(ctx context.Context, pc PaymentContext, req LookupRequest) (PaymentDetails, error) {
	key, provider, err := m.resolve(pc)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := provider.LookupPayment(ctx, req)
	if err != nil {
		return PaymentDetails{}, err
	}
	details.Provider = key
	return details, nil
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
