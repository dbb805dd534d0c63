package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
)

// SQLiteWebhookEventStore implements domain.WebhookEventStore using SQLite.
type SQLiteWebhookEventStore struct {
	db *sql.DB
}

var _ domain.WebhookEventStore = (*SQLiteWebhookEventStore)(nil)

// NewSQLiteWebhookEventStore creates a new SQLite webhook event store.
func NewSQLiteWebhookEventStore(db *sql.DB) *SQLiteWebhookEventStore {
	return &SQLiteWebhookEventStore{db: db}
}

// Claim inserts the event unless it was seen before.
func (s *SQLiteWebhookEventStore) Claim(ctx context.Context, event domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	res, err := sharedPersistence.SQLiteExec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payment_reference, outcome, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, event_id) DO NOTHING
	`,
		event.Provider,
		event.EventID,
		event.EventType,
		nullString(event.PaymentReference),
		string(domain.OutcomeProcessing),
		sharedPersistence.FormatSQLiteTime(event.ReceivedAt),
	)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return nil, true, nil
	}

	existing, err := s.Find(ctx, event.Provider, event.EventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete records the outcome of a claimed event.
func (s *SQLiteWebhookEventStore) Complete(ctx context.Context, provider, eventID string, outcome domain.Outcome, detail string, at time.Time) error {
	res, err := sharedPersistence.SQLiteExec(ctx, s.db).ExecContext(ctx, `
		UPDATE webhook_events SET outcome = ?, detail = ?, applied_at = ?
		WHERE provider = ? AND event_id = ?
	`, string(outcome), nullString(detail), sharedPersistence.FormatSQLiteTime(at), provider, eventID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrWebhookEventNotFound
	}
	return nil
}

// Find returns a stored event.
func (s *SQLiteWebhookEventStore) Find(ctx context.Context, provider, eventID string) (*domain.WebhookEvent, error) {
	var (
		event               domain.WebhookEvent
		outcome, receivedAt string
		reference, detail   sql.NullString
		appliedAt           sql.NullString
	)
	err := sharedPersistence.SQLiteExec(ctx, s.db).QueryRowContext(ctx, `
		SELECT provider, event_id, event_type, payment_reference, outcome, detail, received_at, applied_at
		FROM webhook_events
		WHERE provider = ? AND event_id = ?
	`, provider, eventID).Scan(
		&event.Provider, &event.EventID, &event.EventType, &reference, &outcome, &detail, &receivedAt, &appliedAt,
	)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrWebhookEventNotFound
		}
		return nil, err
	}

	event.PaymentReference = reference.String
	event.Outcome = domain.Outcome(outcome)
	event.Detail = detail.String
	if event.ReceivedAt, err = sharedPersistence.ParseSQLiteTime(receivedAt); err != nil {
		return nil, err
	}
	if event.AppliedAt, err = sharedPersistence.ParseNullSQLiteTime(appliedAt); err != nil {
		return nil, err
	}
	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
