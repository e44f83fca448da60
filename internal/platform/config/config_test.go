package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lumiere-salon/api/internal/domain"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.DSN != defaultDatabaseDSN {
		t.Errorf("expected default sqlite dsn, got %s", cfg.Database.DSN)
	}
	if !cfg.Database.AutoMigrate {
		t.Errorf("expected auto migrate by default")
	}
	defaults := cfg.Policy.Defaults
	if defaults.FreeCancelHours != 24 || defaults.NoRefundHours != 2 || defaults.GraceMinutes != 15 {
		t.Errorf("unexpected policy windows: %+v", defaults)
	}
	if !defaults.PartialRefundPercent.Equal(decimal.NewFromInt(50)) {
		t.Errorf("unexpected partial percent %s", defaults.PartialRefundPercent)
	}
	if defaults.AppliesTo != domain.RefundScopeDepositOnly || defaults.Currency != "gbp" {
		t.Errorf("unexpected policy scope/currency: %s/%s", defaults.AppliesTo, defaults.Currency)
	}
	if cfg.Policy.CacheTTL != 30*time.Second {
		t.Errorf("expected short policy cache ttl, got %s", cfg.Policy.CacheTTL)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupSchedule != "@hourly" {
		t.Errorf("unexpected cleanup schedule %s", cfg.Idempotency.CleanupSchedule)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.MaxSizeMB != defaultLogMaxSizeMB {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                   "9090",
		"API_SERVER_WRITE_TIMEOUT":          "25s",
		"API_DATABASE_DSN":                  "sm://salon-db-dsn",
		"API_DATABASE_MAX_OPEN_CONNS":       "20",
		"API_PSP_STRIPE_API_KEY":            "secret://stripe-api-key",
		"API_SECRETS_PROJECT_ID":            "salon-prod",
		"API_EVENTS_CANCELLATION_TOPIC":     "booking-events",
		"API_POLICY_FREE_CANCEL_HOURS":      "48",
		"API_POLICY_PARTIAL_REFUND_PERCENT": "25.5",
		"API_POLICY_APPLIES_TO":             "FULL",
		"API_IDEMPOTENCY_CLEANUP_SCHEDULE":  "*/15 * * * *",
		"API_FEATURE_ONLINE_REFUNDS":        "off",
	}
	resolved := map[string]string{}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		resolved[ref] = "value-for-" + ref
		return resolved[ref], nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.DSN != "value-for-secret://salon-db-dsn" {
		t.Errorf("expected sm:// to normalise to secret://, got %s", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 20 {
		t.Errorf("unexpected max open conns %d", cfg.Database.MaxOpenConns)
	}
	if cfg.PSP.StripeAPIKey != "value-for-secret://stripe-api-key" {
		t.Errorf("unexpected stripe key %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.Events.ProjectID != "salon-prod" {
		t.Errorf("expected events project to default to secrets project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Policy.Defaults.FreeCancelHours != 48 || cfg.Policy.Defaults.AppliesTo != domain.RefundScopeFull {
		t.Errorf("unexpected policy overrides %+v", cfg.Policy.Defaults)
	}
	if !cfg.Policy.Defaults.PartialRefundPercent.Equal(decimal.RequireFromString("25.5")) {
		t.Errorf("unexpected partial percent %s", cfg.Policy.Defaults.PartialRefundPercent)
	}
	if cfg.Features.EnableOnlineRefunds {
		t.Errorf("expected online refunds to be disabled")
	}
	if len(resolved) != 2 {
		t.Errorf("expected two secret lookups, got %v", resolved)
	}
}

func TestLoadPolicyFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "free_cancel_hours: 36\nno_refund_hours: 4\npartial_refund_percent: \"30\"\ngrace_minutes: 0\nsummary: Cancel free up to 36 hours before.\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvMap(map[string]string{
		"API_POLICY_FILE":            path,
		"API_POLICY_NO_REFUND_HOURS": "6",
	}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	defaults := cfg.Policy.Defaults
	if defaults.FreeCancelHours != 36 {
		t.Errorf("expected file value for free cancel hours, got %v", defaults.FreeCancelHours)
	}
	if defaults.NoRefundHours != 6 {
		t.Errorf("expected env to override file, got %v", defaults.NoRefundHours)
	}
	if defaults.GraceMinutes != 0 {
		t.Errorf("expected explicit zero grace, got %v", defaults.GraceMinutes)
	}
	if !defaults.PartialRefundPercent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("unexpected partial percent %s", defaults.PartialRefundPercent)
	}
	if cfg.Policy.Summary != "Cancel free up to 36 hours before." {
		t.Errorf("unexpected summary %q", cfg.Policy.Summary)
	}
}

func TestLoadPolicyFileErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("free_cancel_hours: [oops"), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	_, err := Load(context.Background(), WithEnvMap(map[string]string{"API_POLICY_FILE": path}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatalf("expected malformed policy file to fail")
	}
}

func TestLoadReadsDotEnvWithLowestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_SERVER_PORT=7070\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"LOG_LEVEL": "warn",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected dotenv port, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected explicit map to win over dotenv, got %s", cfg.Logging.Level)
	}

	port, err := Lookup("API_SERVER_PORT", WithEnvFile(path), WithoutSystemEnv())
	if err != nil || port != "7070" {
		t.Fatalf("unexpected lookup result %q (%v)", port, err)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"API_IDEMPOTENCY_CLEANUP_SCHEDULE": "every now and then",
		"API_POLICY_APPLIES_TO":            "everything",
		"API_EVENTS_CANCELLATION_TOPIC":    "booking-events",
	}), WithoutSystemEnv(), WithEnvFile(""))

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := map[string]bool{}
	for _, field := range validationErr.Fields() {
		fields[field] = true
	}
	for _, want := range []string{"Idempotency.CleanupSchedule", "Policy.Defaults.AppliesTo", "Events.ProjectID"} {
		if !fields[want] {
			t.Errorf("expected %s in %v", want, validationErr.Fields())
		}
	}
}

func TestLoadSecretErrors(t *testing.T) {
	env := map[string]string{"API_PSP_STRIPE_API_KEY": "secret://stripe-api-key"}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("expected unresolved secret error, got %v", err)
	}

	_, err = Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey"))
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected missing names %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "PSP.StripeAPIKey" {
		t.Fatalf("expected redacted names, got %v", redacted)
	}
}
