package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lumiere-salon/api/internal/platform/requestctx"
)

func TestParseCloudTraceContextRoundTrip(t *testing.T) {
	info, spanCtx, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if info.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", info.TraceID)
	}
	if info.SpanID != "0000000000000001" {
		t.Fatalf("unexpected span id %s", info.SpanID)
	}
	if !info.Sampled || !spanCtx.IsSampled() || !spanCtx.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}
	if got := formatCloudTraceHeader(info); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("unexpected formatted header %s", got)
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/xyz"} {
		if _, _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var captured requestctx.TraceInfo
	handler := TraceMiddleware("salon-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/42;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected upstream trace id to propagate, got %q", captured.TraceID)
	}
	if captured.ProjectID != "salon-prod" {
		t.Fatalf("expected project id, got %q", captured.ProjectID)
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header on response")
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
	if logs.Len() != 1 {
		t.Fatalf("expected panic to be logged once, got %d", logs.Len())
	}
}

func TestActorMiddlewareReadsGatewayHeaders(t *testing.T) {
	var actor requestctx.Actor
	var ok bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok = requestctx.ActorFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CustomerHeader, " cust_42 ")
	req.Header.Set(AdminHeader, "TRUE")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok || actor.ID != "cust_42" || !actor.Admin {
		t.Fatalf("unexpected actor %+v (ok=%v)", actor, ok)
	}

	ok = true
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if ok {
		t.Fatalf("expected no actor without header")
	}
}

func TestRequestLoggerMiddlewareLevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	handler := InjectLoggerMiddleware(logger)(ActorMiddleware(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/replay" {
			w.Header().Set(idempotentReplayHeader, "true")
		}
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))))

	req := httptest.NewRequest(http.MethodPost, "/replay", nil)
	req.Header.Set(CustomerHeader, "cust_1")
	req.Header.Set(AdminHeader, "true")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two completion lines, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if entries[0].Level != zapcore.InfoLevel || first["status"] != int64(http.StatusOK) || first["bytes"] != int64(2) {
		t.Fatalf("unexpected success entry %v at %s", first, entries[0].Level)
	}
	if first["customer_id"] != "cust_1" || first["staff"] != true || first["idempotent_replay"] != true {
		t.Fatalf("expected actor and replay fields, got %v", first)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Fatalf("expected 404 to log at warn, got %v at %s", entries[1].ContextMap(), entries[1].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	logEvent := EventLogger(zap.New(fallbackCore), zapcore.InfoLevel)
	logEvent(context.Background(), "shipping.quoted", map[string]any{"region": "uk"})
	logEvent(requestctx.WithLogger(context.Background(), zap.New(requestCore)), "refund.previewed", nil)

	if fallbackLogs.Len() != 1 || fallbackLogs.All()[0].ContextMap()["region"] != "uk" {
		t.Fatalf("expected fallback logger to receive shipping event")
	}
	if requestLogs.Len() != 1 || requestLogs.All()[0].Message != "refund.previewed" {
		t.Fatalf("expected request logger to receive refund event")
	}
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")
	logger, err := NewLogger(LoggerOptions{Level: "debug", FilePath: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}

func TestMetricsRecordWithNoopMeter(t *testing.T) {
	metrics, err := NewMetrics(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	metrics.RecordRefundOutcome(context.Background(), "cancelled_full_refund", "gbp", 12.5)
	metrics.RecordShippingQuote(context.Background(), "uk")

	var nilMetrics *Metrics
	nilMetrics.RecordShippingQuote(context.Background(), "eu")
}

func TestLogLabelsDropControlCharacters(t *testing.T) {
	if got := cleanLogValue("a\nb\x00c", 10); got != "abc" {
		t.Fatalf("unexpected cleaned value %q", got)
	}
	if got := RouteLabel(""); got != "/" {
		t.Fatalf("expected root route, got %q", got)
	}
	if got := MethodLabel("post\r\n"); got != "POST" {
		t.Fatalf("unexpected method label %q", got)
	}
	if got := CustomerLabel("  " + strings.Repeat("é", 100)); len([]rune(got)) != 64 {
		t.Fatalf("expected customer id to be truncated to 64 runes, got %d", len([]rune(got)))
	}
}
