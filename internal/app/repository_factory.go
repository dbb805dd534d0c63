package app

import (
	"database/sql"
	"fmt"

	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	identityPersistence "github.com/felixgeelhaar/tollgate/internal/identity/infrastructure/persistence"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	purchasePersistence "github.com/felixgeelhaar/tollgate/internal/purchases/infrastructure/persistence"
	sharedApplication "github.com/felixgeelhaar/tollgate/internal/shared/application"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories is the set of stores that share one database and one unit of
// work.
type Repositories struct {
	Ledger        purchaseDomain.Ledger
	WebhookEvents purchaseDomain.WebhookEventStore
	Users         identityDomain.UserRepository
	Outbox        outbox.Repository
	UnitOfWork    sharedApplication.UnitOfWork
}

// RepositoryFactory creates repositories based on the database driver.
type RepositoryFactory struct {
	driver database.Driver
	pool   *pgxpool.Pool
	db     *sql.DB
}

// NewPostgresRepositoryFactory creates a factory over a pgx pool.
func NewPostgresRepositoryFactory(pool *pgxpool.Pool) *RepositoryFactory {
	return &RepositoryFactory{driver: database.DriverPostgres, pool: pool}
}

// NewSQLiteRepositoryFactory creates a factory over a SQLite handle.
func NewSQLiteRepositoryFactory(db *sql.DB) *RepositoryFactory {
	return &RepositoryFactory{driver: database.DriverSQLite, db: db}
}

// Driver returns the configured driver.
func (f *RepositoryFactory) Driver() database.Driver {
	return f.driver
}

// Build creates every repository for the configured driver.
func (f *RepositoryFactory) Build() (Repositories, error) {
	switch f.driver {
	case database.DriverPostgres:
		if f.pool == nil {
			return Repositories{}, fmt.Errorf("postgres pool is nil")
		}
		return Repositories{
			Ledger:        purchasePersistence.NewPostgresLedger(f.pool),
			WebhookEvents: purchasePersistence.NewPostgresWebhookEventStore(f.pool),
			Users:         identityPersistence.NewPostgresUserRepository(f.pool),
			Outbox:        outbox.NewPostgresRepository(f.pool),
			UnitOfWork:    sharedPersistence.NewPostgresUnitOfWork(f.pool),
		}, nil

	case database.DriverSQLite:
		if f.db == nil {
			return Repositories{}, fmt.Errorf("sqlite handle is nil")
		}
		return Repositories{
			Ledger:        purchasePersistence.NewSQLiteLedger(f.db),
			WebhookEvents: purchasePersistence.NewSQLiteWebhookEventStore(f.db),
			Users:         identityPersistence.NewSQLiteUserRepository(f.db),
			Outbox:        outbox.NewSQLiteRepository(f.db),
			UnitOfWork:    sharedPersistence.NewSQLiteUnitOfWork(f.db),
		}, nil

	default:
		return Repositories{}, fmt.Errorf("unsupported driver: %s", f.driver)
	}
}
