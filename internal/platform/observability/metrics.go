package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/lumiere-salon/api"

// Metrics holds the business counters emitted by the refund and shipping services.
type Metrics struct {
	refundOutcomes metric.Int64Counter
	refundAmount   metric.Float64Histogram
	shippingQuotes metric.Int64Counter
}

// NewMetrics registers instruments on meter, falling back to the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	outcomes, err := meter.Int64Counter("refund.outcomes",
		metric.WithDescription("Cancellations classified by refund status."),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: refund.outcomes counter: %w", err)
	}
	amount, err := meter.Float64Histogram("refund.amount",
		metric.WithDescription("Refund amounts issued for cancellations, in major currency units."),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: refund.amount histogram: %w", err)
	}
	quotes, err := meter.Int64Counter("shipping.quotes",
		metric.WithDescription("Shipping quotes served by destination region."),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: shipping.quotes counter: %w", err)
	}
	return &Metrics{refundOutcomes: outcomes, refundAmount: amount, shippingQuotes: quotes}, nil
}

// RecordRefundOutcome counts a classified cancellation and observes the refunded amount.
func (m *Metrics) RecordRefundOutcome(ctx context.Context, status, currency string, amount float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("currency", currency),
	)
	m.refundOutcomes.Add(ctx, 1, attrs)
	m.refundAmount.Record(ctx, amount, attrs)
}

// RecordShippingQuote counts a served quote.
func (m *Metrics) RecordShippingQuote(ctx context.Context, region string) {
	if m == nil {
		return
	}
	m.shippingQuotes.Add(ctx, 1, metric.WithAttributes(attribute.String("region", region)))
}
