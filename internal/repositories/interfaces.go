package repositories

import (
	"context"
	"time"

	domain "github.com/lumiere-salon/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Policies() PolicyRepository
	Bookings() BookingRepository
	Cancellations() CancellationRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PolicyRepository stores versions of the administered cancellation policy.
type PolicyRepository interface {
	// Current returns the latest saved policy. A not-found RepositoryError is returned when none exists.
	Current(ctx context.Context) (domain.RefundPolicy, error)
	Save(ctx context.Context, policy domain.RefundPolicy) error
}

// BookingRepository reads salon bookings written by the booking flow and moves them between statuses.
type BookingRepository interface {
	FindByID(ctx context.Context, bookingID string) (domain.Booking, error)
	// UpdateStatus transitions a booking only when it is still in expected, reporting a conflict otherwise.
	UpdateStatus(ctx context.Context, bookingID string, expected, next domain.BookingStatus, at time.Time) error
}

// CancellationRepository records cancellations together with the refund issued for them.
type CancellationRepository interface {
	Insert(ctx context.Context, cancellation domain.Cancellation) error
	ListByBooking(ctx context.Context, bookingID string) ([]domain.Cancellation, error)
}

// HealthRepository reports whether the backing store is reachable.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
