package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumiere-salon/api/internal/platform/database"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(ctx, "file::memory:", database.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	store := NewGormStore(db)
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestGormStoreReserveSaveReplay(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	reservation, err := store.Reserve(ctx, "key|cust_1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, reservation.State)

	reservation, err = store.Reserve(ctx, "key|cust_1", "fp-1", fixedTime, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, reservation.State)

	_, err = store.Reserve(ctx, "key|cust_1", "fp-2", fixedTime, time.Hour)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", "12")
	require.NoError(t, store.SaveResponse(ctx, "key|cust_1", "fp-1", Response{
		Status:  http.StatusCreated,
		Headers: header,
		Body:    []byte(`{"ok":true}`),
	}, fixedTime.Add(time.Second), time.Hour))

	reservation, err = store.Reserve(ctx, "key|cust_1", "fp-1", fixedTime.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateCompleted, reservation.State)
	assert.Equal(t, http.StatusCreated, reservation.Record.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, string(reservation.Record.ResponseBody))
	assert.Equal(t, []string{"application/json"}, reservation.Record.ResponseHeaders["Content-Type"])
	assert.NotContains(t, reservation.Record.ResponseHeaders, "Content-Length")
}

func TestGormStoreExpiryReleaseAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestGormStore(t)

	_, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	reservation, err := store.Reserve(ctx, "old", "fp-other", fixedTime.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, reservation.State, "expired record is replaced")

	require.NoError(t, store.Release(ctx, "old", "fp-other"))
	reservation, err = store.Reserve(ctx, "old", "fp", fixedTime.Add(3*time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, reservation.State, "released record can be reserved again")

	_, err = store.Reserve(ctx, "keep", "fp", fixedTime, 24*time.Hour)
	require.NoError(t, err)

	removed, err := CleanupOnce(ctx, store, fixedTime.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
