package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const postgresSelectPurchases = `
	SELECT id, user_id, content_id, amount_minor, currency, payment_reference,
	       status, failure_reason, created_at, updated_at, completed_at, refunded_at
	FROM purchases
`

// PostgresLedger implements domain.Ledger using PostgreSQL.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ domain.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a new PostgreSQL ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// CreatePending stores a pending record unless the reference exists.
func (l *PostgresLedger) CreatePending(ctx context.Context, purchase domain.NewPurchase) (*domain.Record, bool, error) {
	if err := purchase.Validate(); err != nil {
		return nil, false, err
	}
	rec := purchase.Pending()

	tag, err := sharedPersistence.Executor(ctx, l.pool).Exec(ctx, `
		INSERT INTO purchases (
			id, user_id, content_id, amount_minor, currency, payment_reference,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_reference) DO NOTHING
	`,
		rec.ID, rec.UserID, rec.ContentID, rec.Amount.Amount, rec.Amount.Currency,
		rec.PaymentReference, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() == 1 {
		return &rec, true, nil
	}

	existing, err := l.FindByReference(ctx, rec.PaymentReference)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// MarkCompleted moves pending to completed.
func (l *PostgresLedger) MarkCompleted(ctx context.Context, reference string, at time.Time) (domain.TransitionResult, error) {
	return l.transition(ctx, reference, domain.StatusCompleted,
		`UPDATE purchases SET status = $1, completed_at = $2, updated_at = $2
		 WHERE payment_reference = $3 AND status = $4`,
		string(domain.StatusCompleted), at.UTC(), reference, string(domain.StatusPending))
}

// MarkFailed moves pending to failed.
func (l *PostgresLedger) MarkFailed(ctx context.Context, reference, reason string, at time.Time) (domain.TransitionResult, error) {
	return l.transition(ctx, reference, domain.StatusFailed,
		`UPDATE purchases SET status = $1, failure_reason = $2, updated_at = $3
		 WHERE payment_reference = $4 AND status = $5`,
		string(domain.StatusFailed), reason, at.UTC(), reference, string(domain.StatusPending))
}

// MarkRefunded moves completed to refunded.
func (l *PostgresLedger) MarkRefunded(ctx context.Context, reference string, at time.Time) (domain.TransitionResult, error) {
	return l.transition(ctx, reference, domain.StatusRefunded,
		`UPDATE purchases SET status = $1, refunded_at = $2, updated_at = $2
		 WHERE payment_reference = $3 AND status = $4`,
		string(domain.StatusRefunded), at.UTC(), reference, string(domain.StatusCompleted))
}

func (l *PostgresLedger) transition(ctx context.Context, reference string, target domain.Status, query string, args ...any) (domain.TransitionResult, error) {
	tag, err := l.execIsolated(ctx, query, args...)
	if err != nil {
		if target == domain.StatusCompleted && database.IsUniqueViolation(err) {
			return domain.TransitionResult{}, fmt.Errorf("%w: reference %s", domain.ErrAlreadyEntitled, reference)
		}
		return domain.TransitionResult{}, err
	}

	current, err := l.FindByReference(ctx, reference)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	if tag.RowsAffected() == 0 {
		return domain.Unapplied(target, *current)
	}

	previous, _ := target.Predecessor()
	return domain.TransitionResult{Record: *current, Applied: true, Previous: previous}, nil
}

// execIsolated runs a statement inside a savepoint when the context carries a
// transaction, so a constraint violation leaves the outer transaction usable.
func (l *PostgresLedger) execIsolated(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	info, ok := sharedPersistence.TxInfoFromContext(ctx)
	if !ok {
		return l.pool.Exec(ctx, query, args...)
	}

	savepoint, err := info.Tx.Begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	tag, err := savepoint.Exec(ctx, query, args...)
	if err != nil {
		_ = savepoint.Rollback(ctx)
		return pgconn.CommandTag{}, err
	}
	return tag, savepoint.Commit(ctx)
}

// QueryStatus returns the dominant status for a user and content.
func (l *PostgresLedger) QueryStatus(ctx context.Context, userID uuid.UUID, contentID string) (domain.Status, bool, error) {
	rec, err := l.Current(ctx, userID, contentID)
	if err != nil {
		if errors.Is(err, domain.ErrPurchaseNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return rec.Status, true, nil
}

// Current returns the dominant record for a user and content.
func (l *PostgresLedger) Current(ctx context.Context, userID uuid.UUID, contentID string) (*domain.Record, error) {
	records, err := l.query(ctx, postgresSelectPurchases+`WHERE user_id = $1 AND content_id = $2`, userID, contentID)
	if err != nil {
		return nil, err
	}
	rec, ok := domain.Dominant(records)
	if !ok {
		return nil, domain.ErrPurchaseNotFound
	}
	return &rec, nil
}

// FindByReference returns the record for a payment reference.
func (l *PostgresLedger) FindByReference(ctx context.Context, reference string) (*domain.Record, error) {
	records, err := l.query(ctx, postgresSelectPurchases+`WHERE payment_reference = $1`, reference)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrPurchaseNotFound
	}
	return &records[0], nil
}

// ListStatuses returns the dominant status per content id.
func (l *PostgresLedger) ListStatuses(ctx context.Context, userID uuid.UUID, contentIDs []string) (map[string]domain.Status, error) {
	if len(contentIDs) == 0 {
		return make(map[string]domain.Status), nil
	}
	records, err := l.query(ctx,
		postgresSelectPurchases+`WHERE user_id = $1 AND content_id = ANY($2)`, userID, pq.Array(contentIDs))
	if err != nil {
		return nil, err
	}
	return dominantStatuses(records), nil
}

// ListByUser returns every record for a user, newest first.
func (l *PostgresLedger) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Record, error) {
	return l.query(ctx, postgresSelectPurchases+`WHERE user_id = $1 ORDER BY created_at DESC, id`, userID)
}

func (l *PostgresLedger) query(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := sharedPersistence.Executor(ctx, l.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPostgresRecord(rows pgx.Rows) (domain.Record, error) {
	var (
		rec           domain.Record
		status        string
		failureReason *string
	)
	if err := rows.Scan(
		&rec.ID, &rec.UserID, &rec.ContentID, &rec.Amount.Amount, &rec.Amount.Currency, &rec.PaymentReference,
		&status, &failureReason, &rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt, &rec.RefundedAt,
	); err != nil {
		return domain.Record{}, err
	}

	rec.Status = domain.Status(status)
	if !rec.Status.Valid() {
		return domain.Record{}, fmt.Errorf("%w: stored status %q", sharedDomain.ErrValidation, status)
	}
	if failureReason != nil {
		rec.FailureReason = *failureReason
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
