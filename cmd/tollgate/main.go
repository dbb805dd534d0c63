package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/tollgate/adapter/api"
	"github.com/felixgeelhaar/tollgate/adapter/cli"
	cliAccess "github.com/felixgeelhaar/tollgate/adapter/cli/access"
	cliLedger "github.com/felixgeelhaar/tollgate/adapter/cli/ledger"
	cliWebhook "github.com/felixgeelhaar/tollgate/adapter/cli/webhook"
	"github.com/felixgeelhaar/tollgate/internal/app"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/tollgate/pkg/config"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

func main() {
	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.LoggerFor(cfg.AppEnv, cfg.LogLevel)
	slog.SetDefault(logger)
	cli.SetLogger(logger)

	cli.AddCommand(cliLedger.Cmd)
	cli.AddCommand(cliAccess.Cmd)
	cli.AddCommand(cliWebhook.Cmd)

	if wantsContainer(os.Args[1:]) {
		container, err := app.NewContainer(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
		defer container.Close()
		cli.SetApp(newCLIApp(cfg, container, logger))
	}

	cli.Execute(ctx)
}

// wantsContainer is false for commands that need no backing services.
func wantsContainer(args []string) bool {
	if len(args) == 0 {
		return false
	}
	switch args[0] {
	case "version", "help", "completion", "--help", "-h":
		return false
	}
	return true
}

func newCLIApp(cfg *config.Config, c *app.Container, logger *slog.Logger) *cli.App {
	handler := api.NewHandler(api.HandlerConfig{
		Tokens:      c.Tokens,
		Users:       c.Directory,
		Access:      c.Resolver,
		Catalog:     c.Merger,
		Intents:     c.Gateway,
		Webhooks:    c.Reconciler,
		Enrollments: c.Enrollments,
		Purchases:   c.Repos.Ledger,
		Logger:      logger,
		Metrics:     c.Metrics,
	})

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.HTTPAddr

	dialect := c.Driver.String()
	applied, err := migrations.Files(dialect)
	if err != nil {
		logger.Warn("failed to list migrations", "error", err)
	}

	cliApp := &cli.App{
		Ledger:     c.Repos.Ledger,
		Users:      c.Directory,
		Access:     c.Resolver,
		Webhooks:   c.Reconciler,
		Health:     c.Health,
		Server:     api.NewServer(serverCfg, handler, c.Health, c.Metrics.Handler(), logger),
		Driver:     dialect,
		Migrations: applied,
	}

	// Local mode has no broker: drain the outbox in-process so incidents
	// still reach the log. With a broker, cmd/worker owns the outbox.
	if cfg.OutboxProcessorEnabled && c.Driver == database.DriverSQLite {
		cliApp.Outbox = c.NewOutboxProcessor(c.NewLocalBus())
	} else {
		logger.Debug("outbox processor disabled in API process")
	}
	return cliApp
}
