package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/lumiere-salon/api/internal/services"
)

// PubSubCancellationPublisher publishes booking cancellation events to a Pub/Sub topic.
type PubSubCancellationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCancellationPublisher constructs a Pub/Sub backed cancellation event publisher.
func NewPubSubCancellationPublisher(topic *pubsub.Topic) (*PubSubCancellationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub cancellation publisher: topic is required")
	}
	return &PubSubCancellationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCancellationEvent sends the event and waits for the server to acknowledge it.
func (p *PubSubCancellationPublisher) PublishCancellationEvent(ctx context.Context, event services.CancellationEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub cancellation publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal cancellation event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "bookingId", event.BookingID)
	setAttr(attrs, "cancellationId", event.CancellationID)
	setAttr(attrs, "status", event.Status)
	setAttr(attrs, "currency", event.Currency)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
		// Events for one booking are delivered in order when the subscription enables ordering.
		OrderingKey: orderingKey(p.topic, event.BookingID),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish cancellation event: %w", err)
	}
	return nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *PubSubCancellationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func orderingKey(topic *pubsub.Topic, bookingID string) string {
	if !topic.EnableMessageOrdering {
		return ""
	}
	return strings.TrimSpace(bookingID)
}

// LogCancellationPublisher records cancellation events in the log when no topic is configured.
type LogCancellationPublisher struct {
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewLogCancellationPublisher constructs a publisher that writes events through logger.
func NewLogCancellationPublisher(logger func(ctx context.Context, event string, fields map[string]any)) *LogCancellationPublisher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogCancellationPublisher{logger: logger}
}

func (p *LogCancellationPublisher) PublishCancellationEvent(ctx context.Context, event services.CancellationEvent) error {
	p.logger(ctx, "cancellation.event", map[string]any{
		"type":           event.Type,
		"bookingId":      event.BookingID,
		"cancellationId": event.CancellationID,
		"status":         event.Status,
		"refundAmount":   event.RefundAmount,
		"currency":       event.Currency,
	})
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
