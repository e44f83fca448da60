package gormrepo

import (
	"context"

	"gorm.io/gorm"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/database"
)

type CancellationRepository struct {
	db *gorm.DB
}

func (r *CancellationRepository) Insert(ctx context.Context, cancellation domain.Cancellation) error {
	record := cancellationRecordFromDomain(cancellation)
	if err := database.Conn(ctx, r.db).Create(&record).Error; err != nil {
		return database.WrapError("cancellations.insert", err)
	}
	return nil
}

func (r *CancellationRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.Cancellation, error) {
	var records []cancellationRecord
	err := database.Conn(ctx, r.db).
		Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, database.WrapError("cancellations.list", err)
	}
	out := make([]domain.Cancellation, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}
