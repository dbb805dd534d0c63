package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	accessApplication "github.com/felixgeelhaar/tollgate/internal/access/application"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/cache"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/cms"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/static"
	enrollmentApplication "github.com/felixgeelhaar/tollgate/internal/enrollment/application"
	"github.com/felixgeelhaar/tollgate/internal/enrollment/infrastructure/lms"
	identityApplication "github.com/felixgeelhaar/tollgate/internal/identity/application"
	purchaseApplication "github.com/felixgeelhaar/tollgate/internal/purchases/application"
	"github.com/felixgeelhaar/tollgate/internal/purchases/infrastructure/stripe"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/tollgate/pkg/config"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	stripeClient "github.com/stripe/stripe-go/v79/client"
)

const (
	devJWTSecret       = "tollgate-development-secret"
	knownUserCacheSize = 10000
	knownUserRefresh   = 10 * time.Minute
	webhookTimeout     = 10 * time.Second
	postgresMaxConns   = 20
)

// Container holds every long-lived client and service. Nothing outside the
// container builds clients, and Close releases all of them.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.PrometheusMetrics
	Health  *observability.HealthRegistry

	// Infrastructure
	Driver      database.Driver
	DB          *pgxpool.Pool
	SQLite      *sql.DB
	RedisClient *redis.Client
	Stripe      *stripeClient.API
	Repos       Repositories

	// Collaborators
	Catalog     catalogDomain.Source
	Tokens      *identityApplication.TokenResolver
	Directory   *identityApplication.Directory
	Enrollments *enrollmentApplication.Aggregator

	// Use cases
	Gateway    *purchaseApplication.Gateway
	Reconciler *purchaseApplication.Reconciler
	Resolver   *accessApplication.Resolver
	Merger     *accessApplication.Merger
}

// NewContainer creates and wires all dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewPrometheusMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := c.openDatabase(ctx); err != nil {
		return nil, err
	}

	if err := c.connectRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}

	catalog, err := c.buildCatalog()
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Catalog = catalog

	secret := cfg.JWTSecret
	if secret == "" {
		if !cfg.IsDevelopment() {
			c.Close()
			return nil, fmt.Errorf("JWT_SECRET is required outside development")
		}
		logger.Warn("JWT_SECRET not set, using development secret")
		secret = devJWTSecret
	}
	c.Tokens = identityApplication.NewTokenResolver(secret, cfg.JWTIssuer)

	c.Directory, err = identityApplication.NewDirectory(c.Repos.Users, knownUserCacheSize, knownUserRefresh, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}

	lmsClient := lms.NewClient(lms.Config{
		BaseURL:      cfg.LMSBaseURL,
		ClientID:     cfg.LMSClientID,
		ClientSecret: cfg.LMSClientSecret,
		TokenURL:     cfg.LMSTokenURL,
	}, &http.Client{}, logger)
	c.Enrollments, err = enrollmentApplication.NewAggregator(lmsClient, enrollmentApplication.Config{
		FreshTTL:       cfg.EnrollmentCacheTTL,
		FallbackWindow: cfg.EnrollmentFallbackWindow,
		CacheSize:      cfg.EnrollmentCacheSize,
		Timeout:        cfg.LMSTimeout,
	}, logger, c.Metrics)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create enrollment aggregator: %w", err)
	}

	if cfg.StripeAPIKey == "" {
		if !cfg.IsDevelopment() {
			c.Close()
			return nil, fmt.Errorf("STRIPE_API_KEY is required outside development")
		}
		logger.Warn("STRIPE_API_KEY not set, payment intents will fail")
	}
	c.Stripe = stripe.NewAPI(cfg.StripeAPIKey, nil)
	processor := stripe.NewProcessor(c.Stripe, cfg.ProcessorTimeout, logger, c.Metrics)
	verifier := stripe.NewVerifier(cfg.StripeWebhookSecret, c.Stripe, cfg.ProcessorTimeout, logger, c.Metrics)

	c.Gateway = purchaseApplication.NewGateway(c.Catalog, c.Repos.Ledger, processor, cfg.LedgerTimeout, logger, c.Metrics)
	c.Reconciler = purchaseApplication.NewReconciler(
		c.Repos.Ledger,
		c.Repos.WebhookEvents,
		c.Repos.UnitOfWork,
		outbox.NewRecorder(c.Repos.Outbox),
		webhookTimeout,
		logger,
		c.Metrics,
		verifier,
	)
	c.Resolver = accessApplication.NewResolver(c.Catalog, c.Repos.Ledger, c.Enrollments, cfg.LedgerTimeout, logger, c.Metrics)
	c.Merger = accessApplication.NewMerger(c.Catalog, c.Repos.Ledger, c.Enrollments, cfg.LedgerTimeout, logger)

	return c, nil
}

// openDatabase connects the configured driver, applies migrations and builds
// the repositories.
func (c *Container) openDatabase(ctx context.Context) error {
	driver, err := database.ResolveDriver(c.Config.DatabaseDriver, c.Config.DatabaseURL)
	if err != nil {
		return err
	}
	c.Driver = driver

	var factory *RepositoryFactory
	if driver == database.DriverSQLite {
		path := database.SQLitePath(c.Config.DatabaseURL, c.Config.SQLitePath)
		db, err := database.OpenSQLite(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to open SQLite database: %w", err)
		}
		c.SQLite = db
		if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
			c.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Health.Register("database", observability.PingChecker("database", true, db.PingContext))
		factory = NewSQLiteRepositoryFactory(db)
		c.Logger.Info("using SQLite ledger", "path", path)
	} else {
		pool, err := database.OpenPostgres(ctx, c.Config.DatabaseURL, postgresMaxConns)
		if err != nil {
			return err
		}
		c.DB = pool
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			c.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Health.Register("database", observability.PingChecker("database", true, pool.Ping))
		factory = NewPostgresRepositoryFactory(pool)
		c.Logger.Info("connected to database")
	}

	repos, err := factory.Build()
	if err != nil {
		c.Close()
		return err
	}
	c.Repos = repos
	return nil
}

// connectRedis is optional in development. Without Redis the catalog reads
// straight from the content store.
func (c *Container) connectRedis(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, content cache disabled", "error", err)
		return nil
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, content cache disabled", "error", err)
		return nil
	}

	c.RedisClient = client
	c.Health.Register("redis", observability.PingChecker("redis", false, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	c.Logger.Info("connected to Redis")
	return nil
}

// buildCatalog prefers a local catalog file, then the content store behind
// the Redis cache when one is connected.
func (c *Container) buildCatalog() (catalogDomain.Source, error) {
	if c.Config.CatalogFile != "" {
		src, err := static.LoadFile(c.Config.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog file: %w", err)
		}
		c.Logger.Info("using static catalog", "file", c.Config.CatalogFile)
		return src, nil
	}

	client := cms.NewClient(cms.Config{
		BaseURL:  c.Config.CMSBaseURL,
		APIToken: c.Config.CMSAPIToken,
		Timeout:  c.Config.CMSTimeout,
	}, nil, c.Logger, c.Metrics)
	if c.RedisClient == nil {
		return client, nil
	}
	return cache.NewSource(client, c.RedisClient, c.Config.ContentCacheTTL, c.Logger, c.Metrics), nil
}

// NewOutboxProcessor creates a processor publishing this container's outbox.
func (c *Container) NewOutboxProcessor(publisher eventbus.Publisher) *outbox.Processor {
	return outbox.NewProcessor(c.Repos.Outbox, publisher, outbox.ProcessorConfig{
		PollInterval:     c.Config.OutboxPollInterval,
		BatchSize:        c.Config.OutboxBatchSize,
		MaxRetries:       c.Config.OutboxMaxRetries,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
	}, c.Logger, c.Metrics)
}

// NewLocalBus returns an in-process bus with the purchase audit log
// subscribed. It stands in for the broker when none is configured.
func (c *Container) NewLocalBus() *eventbus.InProcessPublisher {
	bus := eventbus.NewInProcessPublisher(c.Logger)
	bus.Subscribe(purchaseApplication.NewAuditLog(c.Logger).Handle, purchaseApplication.RoutingKeys...)
	return bus
}

// Close releases every connection the container opened.
func (c *Container) Close() {
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("failed to close Redis client", "error", err)
		}
		c.RedisClient = nil
	}
	if c.DB != nil {
		c.DB.Close()
		c.DB = nil
	}
	if c.SQLite != nil {
		if err := c.SQLite.Close(); err != nil {
			c.Logger.Warn("failed to close SQLite database", "error", err)
		}
		c.SQLite = nil
	}
}
