package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/lumiere-salon/api/internal/domain"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultDatabaseDSN         = "file:salon.db?_pragma=foreign_keys(1)"
	defaultMaxOpenConns        = 10
	defaultMaxIdleConns        = 5
	defaultConnMaxLifetime     = 30 * time.Minute
	defaultSlowQueryThreshold  = 200 * time.Millisecond
	defaultPolicyCacheTTL      = 30 * time.Second
	defaultSecretsFallback     = ".secrets.local"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencySchedule = "@hourly"
	defaultLogLevel            = "info"
	defaultLogMaxSizeMB        = 50
	defaultLogMaxBackups       = 5
	defaultLogMaxAgeDays       = 14
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	PSP         PSPConfig
	Policy      PolicyConfig
	Events      EventsConfig
	Secrets     SecretsConfig
	Idempotency IdempotencyConfig
	Logging     LoggingConfig
	Features    FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig selects the gorm dialect through the DSN and tunes the pool.
type DatabaseConfig struct {
	DSN                string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    time.Duration
	SlowQueryThreshold time.Duration
	AutoMigrate        bool
}

// PSPConfig collects payment provider credentials.
type PSPConfig struct {
	DefaultProvider string
	StripeAPIKey    string
	StripeAccount   string
}

// PolicyConfig seeds the refund policy used until an administrator saves one.
type PolicyConfig struct {
	File     string
	Defaults domain.RefundPolicyConfig
	Summary  string
	CacheTTL time.Duration
}

// EventsConfig names the Pub/Sub destination for booking lifecycle events.
type EventsConfig struct {
	ProjectID         string
	CancellationTopic string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header          string
	TTL             time.Duration
	CleanupSchedule string
}

// LoggingConfig controls the process logger and its optional rotated file sink.
type LoggingConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableOnlineRefunds bool
	EnableEventPublish  bool
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns short hashes of the missing secret identifiers, safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks config fields (e.g. "PSP.StripeAPIKey") that must resolve to a value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

type lookupFunc func(string) (string, bool)

func (o loaderOptions) lookup() (lookupFunc, error) {
	dotEnv, err := loadDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := o.envMap[key]; ok {
			return value, true
		}
		if o.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

// Lookup returns a single raw value using the same precedence as Load. main uses it to configure the
// secret fetcher before the full configuration can be resolved.
func Lookup(key string, opts ...Option) (string, error) {
	lookup, err := newLoaderOptions(opts).lookup()
	if err != nil {
		return "", err
	}
	value, _ := lookup(key)
	return strings.TrimSpace(value), nil
}

// Load assembles the application configuration by combining defaults, the optional policy YAML file,
// .env overrides, environment variables, and secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	lookup, err := options.lookup()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Database: DatabaseConfig{
			DSN:                stringWithDefault(lookup, "API_DATABASE_DSN", defaultDatabaseDSN),
			MaxOpenConns:       intWithDefault(lookup, "API_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
			MaxIdleConns:       intWithDefault(lookup, "API_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
			ConnMaxLifetime:    durationWithDefault(lookup, "API_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
			SlowQueryThreshold: durationWithDefault(lookup, "API_DATABASE_SLOW_QUERY", defaultSlowQueryThreshold),
			AutoMigrate:        boolWithDefault(lookup, "API_DATABASE_AUTO_MIGRATE", true),
		},
		PSP: PSPConfig{
			DefaultProvider: strings.ToLower(stringWithDefault(lookup, "API_PSP_DEFAULT_PROVIDER", "stripe")),
			StripeAPIKey:    stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeAccount:   stringWithDefault(lookup, "API_PSP_STRIPE_ACCOUNT", ""),
		},
		Policy: PolicyConfig{
			File:     stringWithDefault(lookup, "API_POLICY_FILE", ""),
			Defaults: domain.DefaultRefundPolicyConfig(),
			CacheTTL: durationWithDefault(lookup, "API_POLICY_CACHE_TTL", defaultPolicyCacheTTL),
		},
		Events: EventsConfig{
			ProjectID:         stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", ""),
			CancellationTopic: stringWithDefault(lookup, "API_EVENTS_CANCELLATION_TOPIC", ""),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", defaultSecretsFallback),
		},
		Idempotency: IdempotencyConfig{
			Header:          stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:             durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupSchedule: stringWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_SCHEDULE", defaultIdempotencySchedule),
		},
		Logging: LoggingConfig{
			Level:      strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
			File:       stringWithDefault(lookup, "API_LOG_FILE", ""),
			MaxSizeMB:  intWithDefault(lookup, "API_LOG_MAX_SIZE_MB", defaultLogMaxSizeMB),
			MaxBackups: intWithDefault(lookup, "API_LOG_MAX_BACKUPS", defaultLogMaxBackups),
			MaxAgeDays: intWithDefault(lookup, "API_LOG_MAX_AGE_DAYS", defaultLogMaxAgeDays),
			Compress:   boolWithDefault(lookup, "API_LOG_COMPRESS", false),
		},
		Features: FeatureFlags{
			EnableOnlineRefunds: boolWithDefault(lookup, "API_FEATURE_ONLINE_REFUNDS", true),
			EnableEventPublish:  boolWithDefault(lookup, "API_FEATURE_EVENT_PUBLISH", true),
		},
	}

	if cfg.Policy.File != "" {
		if err := applyPolicyFile(cfg.Policy.File, &cfg.Policy); err != nil {
			return Config{}, err
		}
	}
	applyPolicyEnv(lookup, &cfg.Policy.Defaults)

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Secrets.ProjectID
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.DSN", &cfg.Database.DSN},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// policyFile is the YAML shape of API_POLICY_FILE.
type policyFile struct {
	FreeCancelHours      *float64 `yaml:"free_cancel_hours"`
	NoRefundHours        *float64 `yaml:"no_refund_hours"`
	PartialRefundPercent *string  `yaml:"partial_refund_percent"`
	AppliesTo            *string  `yaml:"applies_to"`
	GraceMinutes         *float64 `yaml:"grace_minutes"`
	Currency             *string  `yaml:"currency"`
	Summary              string   `yaml:"summary"`
}

func applyPolicyFile(path string, policy *PolicyConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read policy file %s: %w", path, err)
	}
	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("config: parse policy file %s: %w", path, err)
	}

	defaults := &policy.Defaults
	if file.FreeCancelHours != nil {
		defaults.FreeCancelHours = *file.FreeCancelHours
	}
	if file.NoRefundHours != nil {
		defaults.NoRefundHours = *file.NoRefundHours
	}
	if file.PartialRefundPercent != nil {
		percent, err := decimal.NewFromString(strings.TrimSpace(*file.PartialRefundPercent))
		if err != nil {
			return fmt.Errorf("config: policy file partial_refund_percent: %w", err)
		}
		defaults.PartialRefundPercent = percent
	}
	if file.AppliesTo != nil {
		defaults.AppliesTo = domain.RefundScope(strings.ToLower(strings.TrimSpace(*file.AppliesTo)))
	}
	if file.GraceMinutes != nil {
		defaults.GraceMinutes = *file.GraceMinutes
	}
	if file.Currency != nil {
		defaults.Currency = strings.ToLower(strings.TrimSpace(*file.Currency))
	}
	policy.Summary = strings.TrimSpace(file.Summary)
	return nil
}

func applyPolicyEnv(lookup lookupFunc, defaults *domain.RefundPolicyConfig) {
	defaults.FreeCancelHours = floatWithDefault(lookup, "API_POLICY_FREE_CANCEL_HOURS", defaults.FreeCancelHours)
	defaults.NoRefundHours = floatWithDefault(lookup, "API_POLICY_NO_REFUND_HOURS", defaults.NoRefundHours)
	defaults.GraceMinutes = floatWithDefault(lookup, "API_POLICY_GRACE_MINUTES", defaults.GraceMinutes)
	if value, ok := lookup("API_POLICY_PARTIAL_REFUND_PERCENT"); ok && value != "" {
		if percent, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			defaults.PartialRefundPercent = percent
		}
	}
	if value, ok := lookup("API_POLICY_APPLIES_TO"); ok && value != "" {
		defaults.AppliesTo = domain.RefundScope(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup("API_POLICY_CURRENCY"); ok && value != "" {
		defaults.Currency = strings.ToLower(strings.TrimSpace(value))
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		invalid = append(invalid, "Database.DSN")
	}
	if cfg.Policy.CacheTTL <= 0 {
		invalid = append(invalid, "Policy.CacheTTL")
	}
	switch cfg.Policy.Defaults.AppliesTo {
	case domain.RefundScopeDepositOnly, domain.RefundScopeFull:
	default:
		invalid = append(invalid, "Policy.Defaults.AppliesTo")
	}
	if cfg.Policy.Defaults.Currency == "" {
		invalid = append(invalid, "Policy.Defaults.Currency")
	}
	if cfg.Events.CancellationTopic != "" && cfg.Events.ProjectID == "" {
		invalid = append(invalid, "Events.ProjectID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if _, err := cron.ParseStandard(cfg.Idempotency.CleanupSchedule); err != nil {
		invalid = append(invalid, "Idempotency.CleanupSchedule")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup lookupFunc, key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup lookupFunc, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup lookupFunc, key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup lookupFunc, key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup lookupFunc, key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
