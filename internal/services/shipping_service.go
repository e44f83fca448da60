package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumiere-salon/api/internal/platform/money"
)

const maxShippingQuoteItems = 200

// ShippingServiceDeps bundles collaborators required to construct the shipping service.
type ShippingServiceDeps struct {
	Metrics MetricsRecorder
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type shippingService struct {
	metrics MetricsRecorder
	logger  func(ctx context.Context, event string, fields map[string]any)
}

// NewShippingService constructs a ShippingService backed by the static rate cards.
func NewShippingService(deps ShippingServiceDeps) ShippingService {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingService{metrics: deps.Metrics, logger: logger}
}

func (s *shippingService) Quote(ctx context.Context, cmd ShippingQuoteCommand) (ShippingQuote, error) {
	if len(cmd.Items) > maxShippingQuoteItems {
		return ShippingQuote{}, fmt.Errorf("%w: at most %d cart lines are supported", ErrShippingInvalidInput, maxShippingQuoteItems)
	}

	quote, err := EstimateShipping(cmd.Items, cmd.Currency, cmd.CountryCode)
	if err != nil {
		return ShippingQuote{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordShippingQuote(ctx, string(quote.Region))
	}
	fields := map[string]any{
		"region":        string(quote.Region),
		"country":       strings.ToUpper(strings.TrimSpace(cmd.CountryCode)),
		"totalItems":    quote.TotalItems,
		"totalWeightKg": quote.TotalWeightKg.String(),
		"options":       len(quote.Options),
	}
	if cheapest, ok := CheapestShippingOption(quote); ok {
		fields["cheapest"] = cheapest.ID
		fields["cheapestPrice"] = money.Format(cheapest.Price, quote.Currency)
	}
	s.logger(ctx, "shipping.quoted", fields)
	return quote, nil
}
