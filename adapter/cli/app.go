package cli

import (
	"context"

	accessDomain "github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseApplication "github.com/felixgeelhaar/tollgate/internal/purchases/application"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
)

// LedgerReader reads purchase records.
type LedgerReader interface {
	Current(ctx context.Context, userID uuid.UUID, contentID string) (*purchaseDomain.Record, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]purchaseDomain.Record, error)
}

// IdentityLookup finds the identity last seen for a user id.
type IdentityLookup interface {
	Lookup(ctx context.Context, userID uuid.UUID) (identityDomain.Identity, error)
}

// AccessResolver resolves a verdict for one content item.
type AccessResolver interface {
	ResolveContent(ctx context.Context, identity identityDomain.Identity, idOrSlug string) (accessDomain.Verdict, catalogDomain.Descriptor, error)
}

// WebhookProcessor reconciles one processor delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, provider string, payload []byte, signature string) (purchaseApplication.WebhookResult, error)
}

// Server is the HTTP API lifecycle.
type Server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// BackgroundProcessor runs alongside the server, e.g. the outbox drain.
type BackgroundProcessor interface {
	Start(ctx context.Context) error
	Stop()
}

// App holds the CLI application dependencies.
type App struct {
	Ledger   LedgerReader
	Users    IdentityLookup
	Access   AccessResolver
	Webhooks WebhookProcessor
	Health   *observability.HealthRegistry

	// Serve
	Server Server
	Outbox BackgroundProcessor

	// Driver and Migrations describe the schema applied at startup.
	Driver     string
	Migrations []string
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
