package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/lumiere-salon/api/internal/platform/database"
	"github.com/lumiere-salon/api/internal/repositories"
)

// Registry exposes gorm backed repositories sharing one connection pool.
type Registry struct {
	db            *gorm.DB
	policies      *PolicyRepository
	bookings      *BookingRepository
	cancellations *CancellationRepository
	health        *HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry wires repositories over db.
func NewRegistry(db *gorm.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("gormrepo: db is required")
	}
	return &Registry{
		db:            db,
		policies:      &PolicyRepository{db: db},
		bookings:      &BookingRepository{db: db},
		cancellations: &CancellationRepository{db: db},
		health:        &HealthRepository{db: db},
	}, nil
}

// Migrate creates or updates the tables backing every repository.
func (r *Registry) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&policyRecord{}, &bookingRecord{}, &cancellationRecord{}); err != nil {
		return database.WrapError("gormrepo.migrate", err)
	}
	return nil
}

func (r *Registry) Close(context.Context) error {
	return database.Close(r.db)
}

func (r *Registry) Policies() repositories.PolicyRepository {
	return r.policies
}

func (r *Registry) Bookings() repositories.BookingRepository {
	return r.bookings
}

func (r *Registry) Cancellations() repositories.CancellationRepository {
	return r.cancellations
}

func (r *Registry) Health() repositories.HealthRepository {
	return r.health
}

// RunInTx groups repository calls made with the supplied context into one database transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.RunInTx(ctx, r.db, fn)
}

// HealthRepository pings the connection pool.
type HealthRepository struct {
	db *gorm.DB
}

func (r *HealthRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return database.WrapError("health.ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return database.WrapError("health.ping", err)
	}
	return nil
}
