package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps records in a process-local go-cache. It suits single-instance deployments and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items *cache.Cache
}

// NewMemoryStore constructs an empty memory-backed store. Expired records are only removed by
// CleanupExpired, so the cron schedule controls eviction.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cache.New(cache.NoExpiration, 0)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	if cached, ok := s.items.Get(id); ok {
		record := cached.(Record)
		if !record.expired(now) {
			if record.Fingerprint != fingerprint {
				return Reservation{}, ErrFingerprintMismatch
			}
			return reservationFor(record), nil
		}
	}

	record := newPendingRecord(key, fingerprint, now, ttl)
	s.items.Set(id, record, cache.NoExpiration)
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(key)
	record := Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	if cached, ok := s.items.Get(id); ok {
		record = cached.(Record)
		if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}
	}

	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = sanitizeHeaders(resp.Headers)
	record.ResponseBody = append([]byte(nil), resp.Body...)
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(ttl)
	s.items.Set(id, record, cache.NoExpiration)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.items.Delete(recordID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, item := range s.items.Items() {
		if limit > 0 && removed >= limit {
			break
		}
		if record, ok := item.Object.(Record); ok && record.expired(now) {
			s.items.Delete(id)
			removed++
		}
	}
	return removed, nil
}
