package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/app"
	purchaseApplication "github.com/felixgeelhaar/tollgate/internal/purchases/application"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/tollgate/pkg/config"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.LoggerFor(cfg.AppEnv, cfg.LogLevel)
	logger.Info("starting tollgate worker")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	factory, ping, closeDB, err := openDatabase(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer closeDB()
	logger.Info("connected to database", "driver", factory.Driver())

	repos, err := factory.Build()
	if err != nil {
		logger.Error("failed to create repositories", "error", err)
		os.Exit(1)
	}
	outboxRepo := repos.Outbox

	// Create event publisher
	var publisher eventbus.Publisher
	var brokerPing func(context.Context) error
	rabbitPublisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("RabbitMQ not available, logging purchase events in-process", "error", err)
			bus := eventbus.NewInProcessPublisher(logger)
			bus.Subscribe(purchaseApplication.NewAuditLog(logger).Handle, purchaseApplication.RoutingKeys...)
			publisher = bus
		} else {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
	} else {
		publisher = rabbitPublisher
		brokerPing = rabbitPublisher.Ping
		defer rabbitPublisher.Close()
	}
	logger.Info("event publisher initialized")

	metrics := observability.NewPrometheusMetrics()

	// Create outbox processor
	processorConfig := outbox.DefaultProcessorConfig()
	processorConfig.PollInterval = cfg.OutboxPollInterval
	processorConfig.BatchSize = cfg.OutboxBatchSize
	processorConfig.MaxRetries = cfg.OutboxMaxRetries
	processor := outbox.NewProcessor(outboxRepo, publisher, processorConfig, logger, metrics)

	// Start processing
	logger.Info("starting outbox processor",
		"poll_interval", processorConfig.PollInterval,
		"batch_size", processorConfig.BatchSize,
		"max_retries", processorConfig.MaxRetries,
	)

	if err := processor.Start(ctx); err != nil {
		logger.Error("failed to start outbox processor", "error", err)
		os.Exit(1)
	}

	cleanupTicker := time.NewTicker(cfg.OutboxCleanupInterval)
	defer cleanupTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-cleanupTicker.C:
				deleted, err := outboxRepo.DeleteOld(ctx, cfg.OutboxRetentionDays)
				if err != nil {
					logger.Error("outbox cleanup failed", "error", err)
					continue
				}
				if deleted > 0 {
					logger.Info("outbox cleanup completed", "deleted", deleted, "retention_days", cfg.OutboxRetentionDays)
				}
			}
		}
	}()

	if cfg.WorkerHealthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			stats := processor.GetStats()
			response := map[string]any{
				"status":            "ok",
				"running":           stats.IsRunning,
				"published":         stats.PublishedCount,
				"failed":            stats.FailedCount,
				"dead":              stats.DeadCount,
				"last_processed_at": stats.LastProcessedAt,
				"last_error_at":     stats.LastErrorAt,
				"last_error":        stats.LastError,
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(response)
		})

		mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
			checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			w.Header().Set("Content-Type", "application/json")
			err := ping(checkCtx)
			if err == nil && brokerPing != nil {
				err = brokerPing(checkCtx)
			}
			if err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"status": "not_ready",
					"error":  err.Error(),
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ready"})
		})

		mux.Handle("GET /metrics", metrics.Handler())

		healthSrv := &http.Server{
			Addr:              cfg.WorkerHealthAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("health server starting", "addr", cfg.WorkerHealthAddr)
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", "error", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := healthSrv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("health server shutdown error", "error", err)
			}
		}()
	}

	statsTicker := time.NewTicker(cfg.OutboxStatsInterval)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				stats := processor.GetStats()
				logger.Info("outbox stats",
					"running", stats.IsRunning,
					"published", stats.PublishedCount,
					"failed", stats.FailedCount,
					"dead", stats.DeadCount,
					"lag_seconds", stats.LagSeconds,
					"oldest_message_at", stats.OldestMessageAt,
					"last_processed_at", stats.LastProcessedAt,
					"last_error_at", stats.LastErrorAt,
					"last_error", stats.LastError,
				)
			}
		}
	}()

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("shutting down worker")

	processor.Stop()
	logger.Info("worker stopped")
}

// openDatabase opens the configured store. The API process owns migrations,
// so the worker only connects.
func openDatabase(ctx context.Context, cfg *config.Config) (*app.RepositoryFactory, func(context.Context) error, func(), error) {
	driver, err := database.ResolveDriver(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if driver == database.DriverSQLite {
		db, err := database.OpenSQLite(ctx, database.SQLitePath(cfg.DatabaseURL, cfg.SQLitePath))
		if err != nil {
			return nil, nil, nil, err
		}
		return app.NewSQLiteRepositoryFactory(db), db.PingContext, closer(db), nil
	}

	pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL, 5)
	if err != nil {
		return nil, nil, nil, err
	}
	return app.NewPostgresRepositoryFactory(pool), pool.Ping, pool.Close, nil
}

func closer(db *sql.DB) func() {
	return func() {
		if err := db.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "failed to close database:", err)
		}
	}
}
