package persistence

import (
	"context"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWebhookEventStore implements domain.WebhookEventStore using PostgreSQL.
type PostgresWebhookEventStore struct {
	pool *pgxpool.Pool
}

var _ domain.WebhookEventStore = (*PostgresWebhookEventStore)(nil)

// NewPostgresWebhookEventStore creates a new PostgreSQL webhook event store.
func NewPostgresWebhookEventStore(pool *pgxpool.Pool) *PostgresWebhookEventStore {
	return &PostgresWebhookEventStore{pool: pool}
}

// Claim inserts the event unless it was seen before. A concurrent claim of
// the same event blocks on the primary key until the first transaction ends.
func (s *PostgresWebhookEventStore) Claim(ctx context.Context, event domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	tag, err := sharedPersistence.Executor(ctx, s.pool).Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payment_reference, outcome, received_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, event.Provider, event.EventID, event.EventType, event.PaymentReference,
		string(domain.OutcomeProcessing), event.ReceivedAt.UTC())
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return nil, true, nil
	}

	existing, err := s.Find(ctx, event.Provider, event.EventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete records the outcome of a claimed event.
func (s *PostgresWebhookEventStore) Complete(ctx context.Context, provider, eventID string, outcome domain.Outcome, detail string, at time.Time) error {
	tag, err := sharedPersistence.Executor(ctx, s.pool).Exec(ctx, `
		UPDATE webhook_events SET outcome = $1, detail = NULLIF($2, ''), applied_at = $3
		WHERE provider = $4 AND event_id = $5
	`, string(outcome), detail, at.UTC(), provider, eventID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookEventNotFound
	}
	return nil
}

// Find returns a stored event.
func (s *PostgresWebhookEventStore) Find(ctx context.Context, provider, eventID string) (*domain.WebhookEvent, error) {
	var (
		event             domain.WebhookEvent
		outcome           string
		reference, detail *string
	)
	err := sharedPersistence.Executor(ctx, s.pool).QueryRow(ctx, `
		SELECT provider, event_id, event_type, payment_reference, outcome, detail, received_at, applied_at
		FROM webhook_events
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID).Scan(
		&event.Provider, &event.EventID, &event.EventType, &reference, &outcome, &detail, &event.ReceivedAt, &event.AppliedAt,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrWebhookEventNotFound
		}
		return nil, err
	}

	if reference != nil {
		event.PaymentReference = *reference
	}
	if detail != nil {
		event.Detail = *detail
	}
	event.Outcome = domain.Outcome(outcome)
	event.ReceivedAt = event.ReceivedAt.UTC()
	return &event, nil
}
