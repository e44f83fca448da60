package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lumiere-salon/api/internal/services"
)

func newTestTopic(t *testing.T, ordered bool) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "booking-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	topic.EnableMessageOrdering = ordered
	return srv, topic
}

func TestPubSubCancellationPublisherPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t, false)

	publisher, err := NewPubSubCancellationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCancellationPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.CancellationEvent{
		Type:           "booking.cancelled",
		BookingID:      "bk_1",
		CancellationID: "cxl_1",
		Status:         "cancelled_partial_refund",
		RefundPercent:  "50",
		RefundAmount:   "10.00",
		Currency:       "gbp",
		Reason:         "partial_refund_window",
		OccurredAt:     time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishCancellationEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishCancellationEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.CancellationEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.BookingID != "bk_1" || payload.RefundAmount != "10.00" || !payload.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["cancellationId"]; attr != "cxl_1" {
		t.Fatalf("expected cancellation id attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["refundId"]; ok {
		t.Fatalf("refund id attribute should not be present")
	}
	if messages[0].OrderingKey != "" {
		t.Fatalf("expected no ordering key on an unordered topic, got %q", messages[0].OrderingKey)
	}
}

func TestPubSubCancellationPublisherOrdersByBooking(t *testing.T) {
	srv, topic := newTestTopic(t, true)

	publisher, err := NewPubSubCancellationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubCancellationPublisher: %v", err)
	}
	defer publisher.Stop()

	if err := publisher.PublishCancellationEvent(context.Background(), services.CancellationEvent{BookingID: "bk_9", CancellationID: "cxl_9"}); err != nil {
		t.Fatalf("PublishCancellationEvent: %v", err)
	}
	if got := srv.Messages()[0].OrderingKey; got != "bk_9" {
		t.Fatalf("expected booking ordering key, got %q", got)
	}
}

func TestNewPubSubCancellationPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubCancellationPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

func TestLogCancellationPublisherWritesEvent(t *testing.T) {
	var got map[string]any
	publisher := NewLogCancellationPublisher(func(_ context.Context, event string, fields map[string]any) {
		if event == "cancellation.event" {
			got = fields
		}
	})

	if err := publisher.PublishCancellationEvent(context.Background(), services.CancellationEvent{BookingID: "bk_1", Status: "cancelled_no_refund"}); err != nil {
		t.Fatalf("PublishCancellationEvent: %v", err)
	}
	if got["bookingId"] != "bk_1" || got["status"] != "cancelled_no_refund" {
		t.Fatalf("unexpected fields %v", got)
	}
}
