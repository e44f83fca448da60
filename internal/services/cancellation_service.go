package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/payments"
	"github.com/lumiere-salon/api/internal/platform/money"
	"github.com/lumiere-salon/api/internal/repositories"
)

const (
	cancellationIDPrefix     = "cxl_"
	cancellationEventType    = "booking.cancelled"
	refundReasonCancellation = "customer_cancellation"
)

var (
	// ErrCancellationInvalidInput signals a malformed preview or cancel request.
	ErrCancellationInvalidInput = errors.New("cancellation: invalid input")
	// ErrCancellationNotFound signals an unknown booking, or one the caller may not see.
	ErrCancellationNotFound = errors.New("cancellation: booking not found")
	// ErrCancellationInvalidState signals a booking that is already cancelled or completed.
	ErrCancellationInvalidState = errors.New("cancellation: booking cannot be cancelled")
	// ErrCancellationConflict signals a booking whose status changed while it was being cancelled.
	ErrCancellationConflict = errors.New("cancellation: conflict")
	// ErrCancellationRefundFailed signals that the PSP rejected the refund; nothing was persisted.
	ErrCancellationRefundFailed = errors.New("cancellation: refund failed")
	// ErrCancellationUnavailable signals that persistence is unreachable.
	ErrCancellationUnavailable = errors.New("cancellation: unavailable")
)

var cancellableStatuses = []domain.BookingStatus{
	domain.BookingStatusPending,
	domain.BookingStatusConfirmed,
}

// CancellationServiceDeps bundles collaborators required to construct the cancellation service.
type CancellationServiceDeps struct {
	Bookings      repositories.BookingRepository
	Cancellations repositories.CancellationRepository
	UnitOfWork    repositories.UnitOfWork
	Policies      PolicyService
	// Payments is optional. Without it refunds are recorded for manual processing.
	Payments    refundManager
	Events      CancellationEventPublisher
	Metrics     MetricsRecorder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cancellationService struct {
	bookings      repositories.BookingRepository
	cancellations repositories.CancellationRepository
	unitOfWork    repositories.UnitOfWork
	policies      PolicyService
	payments      refundManager
	events        CancellationEventPublisher
	metrics       MetricsRecorder
	engine        *RefundPolicyEngine
	now           func() time.Time
	newID         func() string
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewCancellationService constructs a CancellationService.
func NewCancellationService(deps CancellationServiceDeps) (CancellationService, error) {
	if deps.Bookings == nil {
		return nil, errors.New("cancellation service: booking repository is required")
	}
	if deps.Cancellations == nil {
		return nil, errors.New("cancellation service: cancellation repository is required")
	}
	if deps.Policies == nil {
		return nil, errors.New("cancellation service: policy service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}

	return &cancellationService{
		bookings:      deps.Bookings,
		cancellations: deps.Cancellations,
		unitOfWork:    uow,
		policies:      deps.Policies,
		payments:      deps.Payments,
		events:        deps.Events,
		metrics:       deps.Metrics,
		engine:        NewRefundPolicyEngine(clock),
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  newID,
		logger: logger,
	}, nil
}

// Preview computes the outcome a cancellation would have right now without side effects.
func (s *cancellationService) Preview(ctx context.Context, cmd PreviewCancellationCommand) (RefundOutcome, error) {
	cfg, err := s.policyConfig(ctx, cmd.PolicyOverride)
	if err != nil {
		return RefundOutcome{}, err
	}

	if bookingID := strings.TrimSpace(cmd.BookingID); bookingID != "" {
		booking, err := s.loadBooking(ctx, bookingID, cmd.ActorID, cmd.Admin)
		if err != nil {
			return RefundOutcome{}, err
		}
		if !slices.Contains(cancellableStatuses, booking.Status) {
			return RefundOutcome{}, fmt.Errorf("%w: booking status %q", ErrCancellationInvalidState, booking.Status)
		}
		return s.compute(cfg, booking, cmd.CancelledAt)
	}

	if cmd.Payment == nil {
		return RefundOutcome{}, fmt.Errorf("%w: booking id or payment details are required", ErrCancellationInvalidInput)
	}
	outcome, err := s.engine.Compute(cfg, *cmd.Payment, domain.CancellationRequest{
		BookingCreatedAt: cmd.BookingCreatedAt,
		AppointmentStart: cmd.AppointmentStart,
		CancelledAt:      cmd.CancelledAt,
	})
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("%w: %w", ErrCancellationInvalidInput, err)
	}
	return outcome, nil
}

// Cancel cancels a booking, refunds the customer through the PSP and records the cancellation. The refund
// runs before persistence so a PSP failure leaves the booking untouched.
func (s *cancellationService) Cancel(ctx context.Context, cmd CancelBookingCommand) (CancellationResult, error) {
	bookingID := strings.TrimSpace(cmd.BookingID)
	if bookingID == "" {
		return CancellationResult{}, fmt.Errorf("%w: booking id is required", ErrCancellationInvalidInput)
	}
	actorID := strings.TrimSpace(cmd.ActorID)

	booking, err := s.loadBooking(ctx, bookingID, actorID, cmd.Admin)
	if err != nil {
		return CancellationResult{}, err
	}
	if !slices.Contains(cancellableStatuses, booking.Status) {
		return CancellationResult{}, fmt.Errorf("%w: booking status %q", ErrCancellationInvalidState, booking.Status)
	}

	policy, err := s.policies.Current(ctx)
	if err != nil {
		return CancellationResult{}, err
	}
	now := s.now()
	outcome, err := s.compute(policy.Config, booking, now)
	if err != nil {
		return CancellationResult{}, err
	}

	cancellation := Cancellation{
		ID:            cancellationIDPrefix + s.newID(),
		BookingID:     booking.ID,
		Status:        outcome.Status,
		RefundPercent: outcome.RefundPercent,
		RefundAmount:  outcome.RefundAmount,
		Currency:      outcome.Currency,
		Reason:        outcome.Reason,
		RequestedBy:   actorID,
		PolicyVersion: policy.Version,
		CancelledAt:   now,
		CreatedAt:     now,
	}

	note := strings.TrimSpace(cmd.Reason)
	refund, err := s.issueRefund(ctx, booking, cancellation)
	if err != nil {
		return CancellationResult{}, err
	}
	if refund != nil {
		cancellation.RefundProvider = refund.Provider
		cancellation.RefundID = refund.RefundID
		cancellation.RefundAmount = money.FromMinorUnits(refund.Amount, cancellation.Currency)
		refundedAt := now
		cancellation.RefundedAt = &refundedAt
	}

	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.bookings.UpdateStatus(txCtx, booking.ID, booking.Status, domain.BookingStatusCancelled, now); err != nil {
			return err
		}
		return s.cancellations.Insert(txCtx, cancellation)
	})
	if err != nil {
		fields := map[string]any{"bookingId": booking.ID, "cancellationId": cancellation.ID, "error": err}
		if refund != nil {
			fields["refundId"] = refund.RefundID
			s.logger(ctx, "cancellation.persist_failed_after_refund", fields)
		} else {
			s.logger(ctx, "cancellation.persist_failed", fields)
		}
		return CancellationResult{}, s.mapRepositoryError(err)
	}

	booking.Status = domain.BookingStatusCancelled
	booking.UpdatedAt = now
	booking.CancelledAt = &cancellation.CancelledAt

	s.publishEvent(ctx, booking, cancellation, actorID, note)
	if s.metrics != nil {
		s.metrics.RecordRefundOutcome(ctx, string(outcome.Status), outcome.Currency, outcome.RefundAmount.InexactFloat64())
	}
	s.logger(ctx, "cancellation.completed", map[string]any{
		"bookingId":      booking.ID,
		"cancellationId": cancellation.ID,
		"status":         string(outcome.Status),
		"reason":         outcome.Reason,
		"refundAmount":   money.Format(cancellation.RefundAmount, cancellation.Currency),
		"currency":       outcome.Currency,
		"customerNote":   note,
	})

	return CancellationResult{
		Booking:      booking,
		Cancellation: cancellation,
		Outcome:      outcome,
		Refund:       refund,
	}, nil
}

// History lists the recorded cancellations of a booking the caller may see, oldest first.
func (s *cancellationService) History(ctx context.Context, query CancellationHistoryQuery) ([]Cancellation, error) {
	bookingID := strings.TrimSpace(query.BookingID)
	if bookingID == "" {
		return nil, fmt.Errorf("%w: booking id is required", ErrCancellationInvalidInput)
	}
	if _, err := s.loadBooking(ctx, bookingID, strings.TrimSpace(query.ActorID), query.Admin); err != nil {
		return nil, err
	}
	list, err := s.cancellations.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return list, nil
}

func (s *cancellationService) policyConfig(ctx context.Context, override *RefundPolicyConfig) (RefundPolicyConfig, error) {
	if override != nil {
		return *override, nil
	}
	policy, err := s.policies.Current(ctx)
	if err != nil {
		return RefundPolicyConfig{}, err
	}
	return policy.Config, nil
}

// compute prices the outcome in the booking's currency; policy windows are currency independent.
func (s *cancellationService) compute(cfg RefundPolicyConfig, booking Booking, cancelledAt time.Time) (RefundOutcome, error) {
	if currency := money.NormalizeCurrency(booking.Currency); currency != "" {
		cfg.Currency = currency
	}
	outcome, err := s.engine.Compute(cfg, booking.Payment, domain.CancellationRequest{
		BookingCreatedAt: booking.CreatedAt,
		AppointmentStart: booking.AppointmentStart,
		CancelledAt:      cancelledAt,
	})
	if err != nil {
		return RefundOutcome{}, fmt.Errorf("%w: booking %s: %w", ErrCancellationInvalidInput, booking.ID, err)
	}
	return outcome, nil
}

func (s *cancellationService) loadBooking(ctx context.Context, bookingID, actorID string, admin bool) (Booking, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return Booking{}, s.mapRepositoryError(err)
	}
	if !admin && (actorID == "" || booking.CustomerID != actorID) {
		return Booking{}, fmt.Errorf("%w: %s", ErrCancellationNotFound, bookingID)
	}
	return booking, nil
}

// issueRefund refunds the outcome through the PSP with a request built from the booking alone. A payment
// that already carries refunds is reported as refunded without another PSP call.
func (s *cancellationService) issueRefund(ctx context.Context, booking Booking, cancellation Cancellation) (*payments.RefundDetails, error) {
	if !cancellation.RefundAmount.IsPositive() || strings.TrimSpace(booking.PaymentIntentID) == "" {
		return nil, nil
	}
	if s.payments == nil {
		s.logger(ctx, "cancellation.refund.manual_required", map[string]any{
			"bookingId":      booking.ID,
			"cancellationId": cancellation.ID,
			"refundAmount":   money.Format(cancellation.RefundAmount, cancellation.Currency),
		})
		return nil, nil
	}

	paymentCtx := payments.PaymentContext{
		PreferredProvider: booking.PaymentProvider,
		Currency:          cancellation.Currency,
	}
	details, err := s.payments.LookupPayment(ctx, paymentCtx, payments.LookupRequest{IntentID: booking.PaymentIntentID})
	if err != nil {
		return nil, fmt.Errorf("%w: lookup payment %s: %w", ErrCancellationRefundFailed, booking.PaymentIntentID, err)
	}

	if details.AmountRefunded > 0 {
		provider := details.Provider
		if provider == "" {
			provider = booking.PaymentProvider
		}
		s.logger(ctx, "cancellation.refund.already_issued", map[string]any{
			"bookingId":      booking.ID,
			"intentId":       booking.PaymentIntentID,
			"refundId":       details.LatestRefundID,
			"amountRefunded": details.AmountRefunded,
		})
		return &payments.RefundDetails{
			Provider: provider,
			RefundID: details.LatestRefundID,
			IntentID: booking.PaymentIntentID,
			Status:   payments.RefundStatusSucceeded,
			Amount:   details.AmountRefunded,
			Currency: cancellation.Currency,
		}, nil
	}

	amount := money.ToMinorUnits(cancellation.RefundAmount, cancellation.Currency)
	refundable := details.Refundable()
	if refundable <= 0 {
		s.logger(ctx, "cancellation.refund.skipped", map[string]any{
			"bookingId":     booking.ID,
			"intentId":      booking.PaymentIntentID,
			"paymentStatus": string(details.Status),
		})
		return nil, nil
	}
	if amount > refundable {
		amount = refundable
	}

	refund, err := s.payments.Refund(ctx, paymentCtx, payments.RefundRequest{
		IntentID: booking.PaymentIntentID,
		Amount:   &amount,
		Currency: cancellation.Currency,
		Reason:   refundReasonCancellation,
		// One refund per booking, however many times the cancel request is retried.
		IdempotencyKey: "booking-cancel-" + booking.ID,
		Metadata: map[string]string{
			"bookingId":  booking.ID,
			"customerId": booking.CustomerID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancellationRefundFailed, err)
	}
	return &refund, nil
}

func (s *cancellationService) publishEvent(ctx context.Context, booking Booking, cancellation Cancellation, actorID, note string) {
	if s.events == nil {
		return
	}
	event := CancellationEvent{
		Type:           cancellationEventType,
		BookingID:      booking.ID,
		CancellationID: cancellation.ID,
		CustomerID:     booking.CustomerID,
		Status:         string(cancellation.Status),
		RefundPercent:  cancellation.RefundPercent.String(),
		RefundAmount:   money.Format(cancellation.RefundAmount, cancellation.Currency),
		Currency:       cancellation.Currency,
		Reason:         cancellation.Reason,
		RefundID:       cancellation.RefundID,
		ActorID:        actorID,
		CustomerNote:   note,
		OccurredAt:     cancellation.CancelledAt,
	}
	if err := s.events.PublishCancellationEvent(ctx, event); err != nil {
		s.logger(ctx, "cancellation.event.publish.failed", map[string]any{
			"bookingId":      booking.ID,
			"cancellationId": cancellation.ID,
			"error":          err.Error(),
		})
	}
}

func (s *cancellationService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCancellationNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCancellationConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCancellationUnavailable, err)
		}
	}
	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
