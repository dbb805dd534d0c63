package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the access, payment intent, webhook and catalog endpoints
until interrupted. When the outbox drain is enabled, purchase events are
published from this process too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Server == nil {
			return fmt.Errorf("application not initialized - database connection required")
		}
		return serve(cmd.Context(), app)
	},
}

func serve(ctx context.Context, app *App) error {
	if app.Outbox != nil {
		if err := app.Outbox.Start(ctx); err != nil {
			return fmt.Errorf("failed to start outbox processor: %w", err)
		}
		defer app.Outbox.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := app.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
