package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider refunds and inspects Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}
	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Refund creates a refund against the Payment Intent. A nil Amount refunds the remaining balance.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (RefundDetails, error) {
	if p == nil {
		return RefundDetails{}, errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		return RefundDetails{}, errors.New("stripe: payment intent id is required")
	}
	if req.Amount != nil && *req.Amount <= 0 {
		return RefundDetails{}, fmt.Errorf("stripe: refund amount must be positive, got %d", *req.Amount)
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	refund, err := p.api.refunds.New(params)
	if err != nil {
		return RefundDetails{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}

	details := stripeRefundDetails(refund, intentID, p.clock())
	p.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": intentID,
		"refundId":      details.RefundID,
		"amount":        details.Amount,
		"status":        string(details.Status),
	})
	return details, nil
}

// LookupPayment retrieves a Stripe Payment Intent with its latest charge.
func (p *StripeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")
	params.AddExpand("latest_charge.refunds")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.IntentID, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

func stripeRefundDetails(refund *stripe.Refund, intentID string, now time.Time) RefundDetails {
	if refund == nil {
		return RefundDetails{Provider: "stripe", IntentID: intentID, Status: RefundStatusPending, CreatedAt: now}
	}
	status := RefundStatusPending
	switch refund.Status {
	case stripe.RefundStatusSucceeded:
		status = RefundStatusSucceeded
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		status = RefundStatusFailed
	}
	createdAt := now
	if refund.Created != 0 {
		createdAt = time.Unix(refund.Created, 0).UTC()
	}
	return RefundDetails{
		Provider:  "stripe",
		RefundID:  refund.ID,
		IntentID:  intentID,
		Status:    status,
		Amount:    refund.Amount,
		Currency:  strings.ToLower(string(refund.Currency)),
		CreatedAt: createdAt,
	}
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var capturedAt *time.Time
	captured := intent.Status == stripe.PaymentIntentStatusSucceeded
	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}
	var refunded int64
	var latestRefund string

	if charge := intent.LatestCharge; charge != nil {
		if charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
			captured = true
		}
		refunded = charge.AmountRefunded
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0] != nil {
			latestRefund = charge.Refunds.Data[0].ID
		}
		if refunded > 0 {
			status = StatusPartiallyRefunded
			if charge.Refunded || (charge.Amount > 0 && refunded >= charge.Amount) {
				status = StatusRefunded
			}
		}
	}

	currency := strings.ToLower(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToLower(string(intent.LatestCharge.Currency))
	}

	return PaymentDetails{
		Provider:       "stripe",
		IntentID:       intent.ID,
		Status:         status,
		Amount:         amount,
		AmountRefunded: refunded,
		LatestRefundID: latestRefund,
		Currency:       currency,
		Captured:       captured,
		CapturedAt:     capturedAt,
	}
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer), "customer_cancellation":
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
