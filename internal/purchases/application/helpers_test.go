package application

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/static"
	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/felixgeelhaar/tollgate/internal/purchases/infrastructure/persistence"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/stretchr/testify/require"
)

var (
	chf5  = sharedDomain.Money{Amount: 500, Currency: "CHF"}
	chf10 = sharedDomain.Money{Amount: 1000, Currency: "CHF"}
	chf20 = sharedDomain.Money{Amount: 2000, Currency: "CHF"}
)

type fixture struct {
	db      *sql.DB
	ledger  *persistence.SQLiteLedger
	store   *persistence.SQLiteWebhookEventStore
	uow     *sharedPersistence.SQLiteUnitOfWork
	outbox  *outbox.InMemoryRepository
	catalog *static.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(ctx, db))

	catalog, err := static.NewSource(
		catalogDomain.Descriptor{ID: "a1", Slug: "pricing-101", Title: "Pricing 101", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierPaid, Price: chf10},
		catalogDomain.Descriptor{ID: "c1", Slug: "go-course", Title: "Go Course", Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid, Price: chf5},
		catalogDomain.Descriptor{ID: "o1", Slug: "welcome", Title: "Welcome", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierOpen},
	)
	require.NoError(t, err)

	return &fixture{
		db:      db,
		ledger:  persistence.NewSQLiteLedger(db),
		store:   persistence.NewSQLiteWebhookEventStore(db),
		uow:     sharedPersistence.NewSQLiteUnitOfWork(db),
		outbox:  outbox.NewInMemoryRepository(),
		catalog: catalog,
	}
}

func (f *fixture) routingKeys() []string {
	var keys []string
	for _, msg := range f.outbox.Messages() {
		keys = append(keys, msg.RoutingKey)
	}
	return keys
}

type fakeProcessor struct {
	mu       sync.Mutex
	requests []domain.IntentRequest
	err      error
}

func (p *fakeProcessor) CreateIntent(_ context.Context, req domain.IntentRequest) (domain.Intent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return domain.Intent{}, p.err
	}
	// Keyed by reference, like the real processor's idempotency key.
	return domain.Intent{ID: "pi_" + req.PaymentReference[:8], ClientSecret: "secret_" + req.PaymentReference}, nil
}

func (p *fakeProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// fakeVerifier looks events up by payload; the signature "bad" fails.
type fakeVerifier struct {
	events map[string]domain.PaymentEvent
	err    error
}

func newFakeVerifier() *fakeVerifier {
	return &fakeVerifier{events: map[string]domain.PaymentEvent{}}
}

func (v *fakeVerifier) Provider() string { return "stripe" }

func (v *fakeVerifier) Verify(_ context.Context, payload []byte, signature string) (domain.PaymentEvent, error) {
	if signature == "bad" {
		return domain.PaymentEvent{}, sharedDomain.ErrSignatureInvalid
	}
	if v.err != nil {
		return domain.PaymentEvent{}, v.err
	}
	event, ok := v.events[string(payload)]
	if !ok {
		return domain.PaymentEvent{}, errors.New("unexpected payload")
	}
	return event, nil
}

// deliver registers an event and returns the payload that yields it.
func (v *fakeVerifier) deliver(event domain.PaymentEvent) []byte {
	event.Provider = "stripe"
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	}
	v.events[event.ID] = event
	return []byte(event.ID)
}
