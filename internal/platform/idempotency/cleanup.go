package idempotency

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultCleanupBatch = 200

// ScheduleCleanup registers a cron job deleting expired records in batches of batchSize.
func ScheduleCleanup(scheduler *cron.Cron, schedule string, store Store, batchSize int, logger Logger) (cron.EntryID, error) {
	if batchSize <= 0 {
		batchSize = defaultCleanupBatch
	}
	return scheduler.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := CleanupOnce(ctx, store, time.Now(), batchSize)
		if err != nil {
			logf(logger, "idempotency: cleanup failed after removing %d records: %v", removed, err)
			return
		}
		if removed > 0 {
			logf(logger, "idempotency: removed %d expired records", removed)
		}
	})
}

// CleanupOnce drains expired records batch by batch until a batch comes back short.
func CleanupOnce(ctx context.Context, store Store, now time.Time, batchSize int) (int, error) {
	total := 0
	for {
		removed, err := store.CleanupExpired(ctx, now, batchSize)
		total += removed
		if err != nil || removed < batchSize {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
