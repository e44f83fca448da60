package gormrepo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/database"
)

type BookingRepository struct {
	db *gorm.DB
}

func (r *BookingRepository) FindByID(ctx context.Context, bookingID string) (domain.Booking, error) {
	bookingID = strings.TrimSpace(bookingID)
	var record bookingRecord
	err := database.Conn(ctx, r.db).Where("id = ?", bookingID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Booking{}, database.NotFound("bookings.find", "booking %q not found", bookingID)
		}
		return domain.Booking{}, database.WrapError("bookings.find", err)
	}
	return record.toDomain(), nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, bookingID string, expected, next domain.BookingStatus, at time.Time) error {
	at = at.UTC()
	updates := map[string]any{
		"status":     string(next),
		"updated_at": at,
	}
	if next == domain.BookingStatusCancelled {
		updates["cancelled_at"] = at
	}

	result := database.Conn(ctx, r.db).
		Model(&bookingRecord{}).
		Where("id = ? AND status = ?", bookingID, string(expected)).
		Updates(updates)
	if result.Error != nil {
		return database.WrapError("bookings.update_status", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.FindByID(ctx, bookingID)
	if err != nil {
		return err
	}
	return database.Conflict("bookings.update_status", "booking %q is %s, expected %s", bookingID, current.Status, expected)
}
