package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	domain "github.com/lumiere-salon/api/internal/domain"
	"github.com/lumiere-salon/api/internal/platform/database"
)

// PolicyRepository keeps every saved policy version; the highest version is current.
type PolicyRepository struct {
	db *gorm.DB
}

func (r *PolicyRepository) Current(ctx context.Context) (domain.RefundPolicy, error) {
	var record policyRecord
	err := database.Conn(ctx, r.db).Order("version DESC").Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RefundPolicy{}, database.NotFound("policies.current", "no refund policy saved")
		}
		return domain.RefundPolicy{}, database.WrapError("policies.current", err)
	}
	return record.toDomain(), nil
}

func (r *PolicyRepository) Save(ctx context.Context, policy domain.RefundPolicy) error {
	record := policyRecordFromDomain(policy)
	if err := database.Conn(ctx, r.db).Create(&record).Error; err != nil {
		return database.WrapError("policies.save", err)
	}
	return nil
}
