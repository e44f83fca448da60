package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/lumiere-salon/api/internal/handlers"
	"github.com/lumiere-salon/api/internal/payments"
	"github.com/lumiere-salon/api/internal/platform/config"
	"github.com/lumiere-salon/api/internal/platform/database"
	"github.com/lumiere-salon/api/internal/platform/idempotency"
	"github.com/lumiere-salon/api/internal/platform/jobs"
	"github.com/lumiere-salon/api/internal/platform/observability"
	"github.com/lumiere-salon/api/internal/repositories"
	"github.com/lumiere-salon/api/internal/repositories/gormrepo"
	"github.com/lumiere-salon/api/internal/services"
)

const idempotencyCleanupBatchSize = 500

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Policies      services.PolicyService
	Cancellations services.CancellationService
	Shipping      services.ShippingService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	DB           *gorm.DB
	Repositories repositories.Registry
	Idempotency  idempotency.Store
	Payments     *payments.Manager
	Events       services.CancellationEventPublisher
	Metrics      *observability.Metrics
	Services     Services

	scheduler *cron.Cron
	closers   []func(context.Context) error
}

// Option customises container construction, mostly for tests.
type Option func(*containerOptions)

type containerOptions struct {
	db              *gorm.DB
	pubsubClientOps []option.ClientOption
	stripeProvider  payments.Provider
	clock           func() time.Time
}

// WithDatabase reuses an existing connection instead of opening cfg.Database.DSN. The caller keeps ownership.
func WithDatabase(db *gorm.DB) Option {
	return func(o *containerOptions) { o.db = db }
}

// WithPubSubClientOptions forwards options to the Pub/Sub client, e.g. an emulator endpoint.
func WithPubSubClientOptions(opts ...option.ClientOption) Option {
	return func(o *containerOptions) { o.pubsubClientOps = append(o.pubsubClientOps, opts...) }
}

// WithStripeProvider replaces the Stripe adapter built from cfg.PSP.
func WithStripeProvider(provider payments.Provider) Option {
	return func(o *containerOptions) { o.stripeProvider = provider }
}

// WithClock overrides the time source handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) { o.clock = clock }
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (c *Container, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	options := containerOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&options)
	}

	c = &Container{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
			c = nil
		}
	}()

	if err = c.openDatabase(ctx, options); err != nil {
		return c, err
	}
	if c.Metrics, err = observability.NewMetrics(nil); err != nil {
		return c, err
	}
	if err = c.buildPayments(options); err != nil {
		return c, err
	}
	if err = c.buildEvents(ctx, options); err != nil {
		return c, err
	}
	if err = c.buildServices(options); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Container) openDatabase(ctx context.Context, options containerOptions) error {
	db := options.db
	if db == nil {
		opened, err := database.Connect(ctx, c.Config.Database.DSN, database.Options{
			MaxOpenConns:    c.Config.Database.MaxOpenConns,
			MaxIdleConns:    c.Config.Database.MaxIdleConns,
			ConnMaxLifetime: c.Config.Database.ConnMaxLifetime,
			Logger:          c.Logger.Named("database"),
			SlowThreshold:   c.Config.Database.SlowQueryThreshold,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		db = opened
		c.closers = append(c.closers, func(context.Context) error { return database.Close(opened) })
	}
	c.DB = db

	registry, err := gormrepo.NewRegistry(db)
	if err != nil {
		return fmt.Errorf("build repositories: %w", err)
	}
	store := idempotency.NewGormStore(db)
	if c.Config.Database.AutoMigrate {
		if err := registry.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate repositories: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate idempotency store: %w", err)
		}
	}
	c.Repositories = registry
	c.Idempotency = store
	return nil
}

func (c *Container) buildPayments(options containerOptions) error {
	if !c.Config.Features.EnableOnlineRefunds {
		c.Logger.Info("online refunds disabled; cancellations will record refunds for manual processing")
		return nil
	}

	provider := options.stripeProvider
	if provider == nil {
		apiKey := strings.TrimSpace(c.Config.PSP.StripeAPIKey)
		if apiKey == "" {
			c.Logger.Warn("stripe api key not configured; cancellations will record refunds for manual processing")
			return nil
		}
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    apiKey,
			AccountID: c.Config.PSP.StripeAccount,
			Logger:    observability.EventLogger(c.Logger.Named("payments"), zapcore.DebugLevel),
			Clock:     options.clock,
		})
		if err != nil {
			return fmt.Errorf("build stripe provider: %w", err)
		}
		provider = stripeProvider
	}

	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": provider},
		payments.WithDefaultProvider(c.Config.PSP.DefaultProvider),
	)
	if err != nil {
		return fmt.Errorf("build payment manager: %w", err)
	}
	c.Payments = manager
	return nil
}

func (c *Container) buildEvents(ctx context.Context, options containerOptions) error {
	eventsLogger := observability.EventLogger(c.Logger.Named("events"), zapcore.InfoLevel)
	topicName := strings.TrimSpace(c.Config.Events.CancellationTopic)
	if !c.Config.Features.EnableEventPublish || topicName == "" {
		c.Events = jobs.NewLogCancellationPublisher(eventsLogger)
		return nil
	}

	client, err := pubsub.NewClient(ctx, c.Config.Events.ProjectID, options.pubsubClientOps...)
	if err != nil {
		return fmt.Errorf("build pubsub client: %w", err)
	}
	publisher, err := jobs.NewPubSubCancellationPublisher(client.Topic(topicName))
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("build cancellation publisher: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error {
		publisher.Stop()
		return client.Close()
	})
	c.Events = publisher
	return nil
}

func (c *Container) buildServices(options containerOptions) error {
	serviceLogger := observability.EventLogger(c.Logger.Named("services"), zapcore.InfoLevel)

	policies, err := services.NewPolicyService(services.PolicyServiceDeps{
		Policies:       c.Repositories.Policies(),
		Defaults:       c.Config.Policy.Defaults,
		DefaultSummary: c.Config.Policy.Summary,
		CacheTTL:       c.Config.Policy.CacheTTL,
		Clock:          options.clock,
		Logger:         serviceLogger,
	})
	if err != nil {
		return fmt.Errorf("build policy service: %w", err)
	}

	deps := services.CancellationServiceDeps{
		Bookings:      c.Repositories.Bookings(),
		Cancellations: c.Repositories.Cancellations(),
		UnitOfWork:    c.Repositories,
		Policies:      policies,
		Events:        c.Events,
		Metrics:       c.Metrics,
		Clock:         options.clock,
		Logger:        serviceLogger,
	}
	if c.Payments != nil {
		deps.Payments = c.Payments
	}
	cancellations, err := services.NewCancellationService(deps)
	if err != nil {
		return fmt.Errorf("build cancellation service: %w", err)
	}

	c.Services = Services{
		Policies:      policies,
		Cancellations: cancellations,
		Shipping:      services.NewShippingService(services.ShippingServiceDeps{Metrics: c.Metrics, Logger: serviceLogger}),
	}
	return nil
}

// Router assembles the HTTP handler with the shared middleware stack and every route group.
func (c *Container) Router(build handlers.BuildInfo) http.Handler {
	httpLogger := c.Logger.Named("http")
	projectID := c.Config.Events.ProjectID

	idem := idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(c.Config.Idempotency.Header),
		idempotency.WithTTL(c.Config.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(c.Logger.Named("idempotency"))),
	)

	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthCheck("database", c.Repositories.Health().Ping),
	)
	cancellations := handlers.NewCancellationHandlers(c.Services.Cancellations, c.Services.Policies, idem)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(httpLogger),
			observability.ActorMiddleware,
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithRefundRoutes(cancellations.RefundRoutes),
		handlers.WithBookingRoutes(cancellations.BookingRoutes),
		handlers.WithShippingRoutes(handlers.NewShippingHandlers(c.Services.Shipping).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminPolicyHandlers(c.Services.Policies, idem).Routes),
	)
}

// StartBackground schedules the idempotency key cleanup job.
func (c *Container) StartBackground() error {
	if c.scheduler != nil {
		return errors.New("background jobs already started")
	}
	cronLogger := observability.NewPrintfAdapter(c.Logger.Named("cron"))
	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(cronLogger)), cron.WithChain(cron.Recover(cron.PrintfLogger(cronLogger))))
	if _, err := idempotency.ScheduleCleanup(scheduler, c.Config.Idempotency.CleanupSchedule, c.Idempotency, idempotencyCleanupBatchSize, cronLogger); err != nil {
		return fmt.Errorf("schedule idempotency cleanup: %w", err)
	}
	scheduler.Start()
	c.scheduler = scheduler
	return nil
}

// Close stops background jobs and releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.scheduler != nil {
		stopped := c.scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for background jobs: %w", ctx.Err()))
		}
		c.scheduler = nil
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
