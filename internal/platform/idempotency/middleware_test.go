package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lumiere-salon/api/internal/platform/requestctx"
)

var fixedTime = time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)

func cancelRequest(key, body string, actor string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings/bkg_1/cancel", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if actor != "" {
		req = req.WithContext(requestctx.WithActor(req.Context(), requestctx.Actor{ID: actor}))
	}
	return req
}

func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != want {
		t.Fatalf("expected error %s, got %v", want, payload["error"])
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, cancelRequest("", `{}`, "cust_1"))

	if called {
		t.Fatal("handler should not run without a key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"cancelled_full_refund"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, cancelRequest("cxl-1", `{"reason":"ill"}`, "cust_1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, cancelRequest("cxl-1", `{"reason":"ill"}`, "cust_1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %d %q", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored headers to be replayed")
	}
}

func TestMiddleware_DifferentBodySameKeyConflicts(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), cancelRequest("cxl-2", `{"reason":"ill"}`, "cust_1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, cancelRequest("cxl-2", `{"reason":"travel"}`, "cust_1"))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_KeysAreScopedPerActor(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), cancelRequest("shared", `{}`, "cust_1"))
	handler.ServeHTTP(httptest.NewRecorder(), cancelRequest("shared", `{}`, "cust_2"))

	if calls != 2 {
		t.Fatalf("expected separate actors to run independently, got %d calls", calls)
	}
}

func TestMiddleware_ServerErrorsReleaseKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, cancelRequest("retry", `{}`, "cust_1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, cancelRequest("retry", `{}`, "cust_1"))

	if first.Code != http.StatusBadGateway || second.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry after 502, got %d then %d (%d calls)", first.Code, second.Code, calls)
	}
}

func TestMiddleware_PendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	req := cancelRequest("busy", `{}`, "cust_1")
	body := []byte(`{}`)
	fingerprint := requestFingerprint(req, body, "cust_1")
	if _, err := store.Reserve(context.Background(), "busy|cust_1", fingerprint, time.Now(), time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rr := httptest.NewRecorder()
	Middleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while another request holds the key")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve %s: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(time.Hour), time.Hour); err != nil {
		t.Fatalf("reserve fresh: %v", err)
	}

	removed, err := CleanupOnce(ctx, store, fixedTime.Add(2*time.Minute), 2)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 expired records removed, got %d", removed)
	}

	reservation, err := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(2*time.Minute), time.Hour)
	if err != nil || reservation.State != ReservationStatePending {
		t.Fatalf("expected fresh record to survive cleanup, got %+v (%v)", reservation, err)
	}
}

func TestScheduleCleanupRegistersJob(t *testing.T) {
	scheduler := cron.New()
	id, err := ScheduleCleanup(scheduler, "@every 1m", NewMemoryStore(), 0, nil)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if entry := scheduler.Entry(id); entry.ID != id {
		t.Fatalf("expected entry %d to be registered", id)
	}
	if _, err := ScheduleCleanup(scheduler, "not a schedule", NewMemoryStore(), 0, nil); err == nil {
		t.Fatalf("expected invalid schedule to fail")
	}
}
