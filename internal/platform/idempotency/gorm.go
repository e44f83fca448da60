package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lumiere-salon/api/internal/platform/database"
)

// GormStore persists records in the idempotency_keys table so replays survive restarts and are shared
// between instances.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a database-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the idempotency_keys table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return database.WrapError("idempotency.migrate", s.db.WithContext(ctx).AutoMigrate(&keyRecord{}))
}

type keyRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	Key             string `gorm:"size:512;not null"`
	Fingerprint     string `gorm:"size:64;not null"`
	Status          string `gorm:"size:16;not null"`
	ResponseStatus  int    `gorm:"not null;default:0"`
	ResponseHeaders string `gorm:"type:text"`
	ResponseBody    []byte
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"index;not null"`
}

func (keyRecord) TableName() string { return "idempotency_keys" }

func newKeyRecord(record Record) (keyRecord, error) {
	out := keyRecord{
		ID:             recordID(record.Key),
		Key:            record.Key,
		Fingerprint:    record.Fingerprint,
		Status:         string(record.Status),
		ResponseStatus: record.ResponseStatus,
		ResponseBody:   record.ResponseBody,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
		ExpiresAt:      record.ExpiresAt,
	}
	if len(record.ResponseHeaders) > 0 {
		encoded, err := json.Marshal(record.ResponseHeaders)
		if err != nil {
			return keyRecord{}, err
		}
		out.ResponseHeaders = string(encoded)
	}
	return out, nil
}

func (r keyRecord) toRecord() Record {
	record := Record{
		Key:            r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         Status(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		ExpiresAt:      r.ExpiresAt.UTC(),
	}
	if r.ResponseHeaders != "" {
		_ = json.Unmarshal([]byte(r.ResponseHeaders), &record.ResponseHeaders)
	}
	return record
}

func (s *GormStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fresh, err := newKeyRecord(newPendingRecord(key, fingerprint, now, ttl))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing keyRecord
		err := tx.Where("id = ?", fresh.ID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&fresh).Error; err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: fresh.toRecord()}
			return nil
		case err != nil:
			return err
		}

		record := existing.toRecord()
		if record.expired(now) {
			if err := tx.Save(&fresh).Error; err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: fresh.toRecord()}
			return nil
		}
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
		result = reservationFor(record)
		return nil
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, err
	}
	if err != nil {
		wrapped := database.WrapError("idempotency.reserve", err)
		var repoErr *database.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsConflict() {
			// A concurrent request inserted the key first.
			return Reservation{State: ReservationStatePending, Record: fresh.toRecord()}, nil
		}
		return Reservation{}, wrapped
	}
	return result, nil
}

func (s *GormStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		var existing keyRecord
		err := tx.Where("id = ?", recordID(key)).Take(&existing).Error
		switch {
		case err == nil:
			record = existing.toRecord()
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = sanitizeHeaders(resp.Headers)
		record.ResponseBody = append([]byte(nil), resp.Body...)
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)

		row, err := newKeyRecord(record)
		if err != nil {
			return err
		}
		return tx.Save(&row).Error
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return err
	}
	return database.WrapError("idempotency.save_response", err)
}

func (s *GormStore) Release(ctx context.Context, key, _ string) error {
	err := s.db.WithContext(ctx).Where("id = ?", recordID(key)).Delete(&keyRecord{}).Error
	return database.WrapError("idempotency.release", err)
}

func (s *GormStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	err := s.db.WithContext(ctx).Model(&keyRecord{}).
		Where("expires_at <= ?", now.UTC()).
		Order("expires_at").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, database.WrapError("idempotency.cleanup", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&keyRecord{})
	if res.Error != nil {
		return 0, database.WrapError("idempotency.cleanup", res.Error)
	}
	return int(res.RowsAffected), nil
}
