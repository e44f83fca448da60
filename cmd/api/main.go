package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lumiere-salon/api/internal/di"
	"github.com/lumiere-salon/api/internal/handlers"
	"github.com/lumiere-salon/api/internal/platform/config"
	"github.com/lumiere-salon/api/internal/platform/observability"
	"github.com/lumiere-salon/api/internal/platform/secrets"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	bootLogger, err := observability.NewLogger(observability.LoggerOptionsFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = bootLogger.Sync()
	}()

	fetcher, err := newSecretFetcher(ctx, bootLogger.Named("secrets"))
	if err != nil {
		bootLogger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			bootLogger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(observability.LoggerOptions{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		bootLogger.Fatal("failed to initialise configured logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	container, err := di.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	if err := container.StartBackground(); err != nil {
		logger.Fatal("failed to start background jobs", zap.Error(err))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Router(buildInfoFromEnv(startedAt)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("salon api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	projectID, err := config.Lookup("API_SECRETS_PROJECT_ID")
	if err != nil {
		return nil, err
	}
	fallback, err := config.Lookup("API_SECRETS_FALLBACK_FILE")
	if err != nil {
		return nil, err
	}

	opts := []secrets.Option{secrets.WithLogger(logger)}
	if projectID != "" {
		opts = append(opts, secrets.WithProject(projectID))
	} else {
		opts = append(opts, secrets.WithoutRemote())
	}
	if fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value because the environment references them.
func requiredSecretNames() []string {
	var required []string
	if raw, _ := config.Lookup("API_PSP_STRIPE_API_KEY"); secrets.IsReference(raw) {
		required = append(required, "PSP.StripeAPIKey")
	}
	if raw, _ := config.Lookup("API_DATABASE_DSN"); secrets.IsReference(raw) {
		required = append(required, "Database.DSN")
	}
	return required
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := lookupOr("API_BUILD_VERSION", "dev")
	commit := lookupOr("API_BUILD_COMMIT_SHA", "unknown")
	environment := lookupOr("API_ENVIRONMENT", "local")
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func lookupOr(key, fallback string) string {
	value, err := config.Lookup(key)
	if err != nil || strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
