package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

const sqliteSelectPurchases = `
	SELECT id, user_id, content_id, amount_minor, currency, payment_reference,
	       status, failure_reason, created_at, updated_at, completed_at, refunded_at
	FROM purchases
`

// SQLiteLedger implements domain.Ledger using SQLite.
type SQLiteLedger struct {
	db *sql.DB
}

var _ domain.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger creates a new SQLite ledger.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// CreatePending stores a pending record unless the reference exists.
func (l *SQLiteLedger) CreatePending(ctx context.Context, purchase domain.NewPurchase) (*domain.Record, bool, error) {
	if err := purchase.Validate(); err != nil {
		return nil, false, err
	}
	rec := purchase.Pending()

	res, err := sharedPersistence.SQLiteExec(ctx, l.db).ExecContext(ctx, `
		INSERT INTO purchases (
			id, user_id, content_id, amount_minor, currency, payment_reference,
			status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (payment_reference) DO NOTHING
	`,
		rec.ID.String(),
		rec.UserID.String(),
		rec.ContentID,
		rec.Amount.Amount,
		rec.Amount.Currency,
		rec.PaymentReference,
		string(rec.Status),
		sharedPersistence.FormatSQLiteTime(rec.CreatedAt),
		sharedPersistence.FormatSQLiteTime(rec.UpdatedAt),
	)
	if err != nil {
		return nil, false, err
	}

	if n, err := res.RowsAffected(); err != nil {
		return nil, false, err
	} else if n == 1 {
		return &rec, true, nil
	}

	existing, err := l.FindByReference(ctx, rec.PaymentReference)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// MarkCompleted moves pending to completed.
func (l *SQLiteLedger) MarkCompleted(ctx context.Context, reference string, at time.Time) (domain.TransitionResult, error) {
	ts := sharedPersistence.FormatSQLiteTime(at)
	return l.transition(ctx, reference, domain.StatusCompleted,
		`UPDATE purchases SET status = ?, completed_at = ?, updated_at = ?
		 WHERE payment_reference = ? AND status = ?`,
		string(domain.StatusCompleted), ts, ts, reference, string(domain.StatusPending))
}

// MarkFailed moves pending to failed.
func (l *SQLiteLedger) MarkFailed(ctx context.Context, reference, reason string, at time.Time) (domain.TransitionResult, error) {
	ts := sharedPersistence.FormatSQLiteTime(at)
	return l.transition(ctx, reference, domain.StatusFailed,
		`UPDATE purchases SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE payment_reference = ? AND status = ?`,
		string(domain.StatusFailed), reason, ts, reference, string(domain.StatusPending))
}

// MarkRefunded moves completed to refunded.
func (l *SQLiteLedger) MarkRefunded(ctx context.Context, reference string, at time.Time) (domain.TransitionResult, error) {
	ts := sharedPersistence.FormatSQLiteTime(at)
	return l.transition(ctx, reference, domain.StatusRefunded,
		`UPDATE purchases SET status = ?, refunded_at = ?, updated_at = ?
		 WHERE payment_reference = ? AND status = ?`,
		string(domain.StatusRefunded), ts, ts, reference, string(domain.StatusCompleted))
}

func (l *SQLiteLedger) transition(ctx context.Context, reference string, target domain.Status, query string, args ...any) (domain.TransitionResult, error) {
	exec := sharedPersistence.SQLiteExec(ctx, l.db)

	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		if target == domain.StatusCompleted && database.IsUniqueViolation(err) {
			return domain.TransitionResult{}, fmt.Errorf("%w: reference %s", domain.ErrAlreadyEntitled, reference)
		}
		return domain.TransitionResult{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.TransitionResult{}, err
	}

	current, err := l.FindByReference(ctx, reference)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	if n == 0 {
		return domain.Unapplied(target, *current)
	}

	previous, _ := target.Predecessor()
	return domain.TransitionResult{Record: *current, Applied: true, Previous: previous}, nil
}

// QueryStatus returns the dominant status for a user and content.
func (l *SQLiteLedger) QueryStatus(ctx context.Context, userID uuid.UUID, contentID string) (domain.Status, bool, error) {
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
func (l *SQLiteLedger) Current(ctx context.Context, userID uuid.UUID, contentID string) (*domain.Record, error) {
	records, err := l.query(ctx, sqliteSelectPurchases+`WHERE user_id = ? AND content_id = ?`, userID.String(), contentID)
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
func (l *SQLiteLedger) FindByReference(ctx context.Context, reference string) (*domain.Record, error) {
	records, err := l.query(ctx, sqliteSelectPurchases+`WHERE payment_reference = ?`, reference)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, domain.ErrPurchaseNotFound
	}
	return &records[0], nil
}

// ListStatuses returns the dominant status per content id.
func (l *SQLiteLedger) ListStatuses(ctx context.Context, userID uuid.UUID, contentIDs []string) (map[string]domain.Status, error) {
	statuses := make(map[string]domain.Status)
	if len(contentIDs) == 0 {
		return statuses, nil
	}

	args := make([]any, 0, len(contentIDs)+1)
	args = append(args, userID.String())
	for _, id := range contentIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(contentIDs)), ",")

	records, err := l.query(ctx,
		sqliteSelectPurchases+`WHERE user_id = ? AND content_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	return dominantStatuses(records), nil
}

// ListByUser returns every record for a user, newest first.
func (l *SQLiteLedger) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Record, error) {
	return l.query(ctx, sqliteSelectPurchases+`WHERE user_id = ? ORDER BY created_at DESC, id`, userID.String())
}

func (l *SQLiteLedger) query(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := sharedPersistence.SQLiteExec(ctx, l.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanSQLiteRecord(rows *sql.Rows) (domain.Record, error) {
	var (
		rec                     domain.Record
		id, userID, status      string
		failureReason           sql.NullString
		createdAt, updatedAt    string
		completedAt, refundedAt sql.NullString
	)
	if err := rows.Scan(
		&id, &userID, &rec.ContentID, &rec.Amount.Amount, &rec.Amount.Currency, &rec.PaymentReference,
		&status, &failureReason, &createdAt, &updatedAt, &completedAt, &refundedAt,
	); err != nil {
		return domain.Record{}, err
	}

	var err error
	if rec.ID, err = uuid.Parse(id); err != nil {
		return domain.Record{}, err
	}
	if rec.UserID, err = uuid.Parse(userID); err != nil {
		return domain.Record{}, err
	}
	rec.Status = domain.Status(status)
	if !rec.Status.Valid() {
		return domain.Record{}, fmt.Errorf("%w: stored status %q", sharedDomain.ErrValidation, status)
	}
	rec.FailureReason = failureReason.String
	if rec.CreatedAt, err = sharedPersistence.ParseSQLiteTime(createdAt); err != nil {
		return domain.Record{}, err
	}
	if rec.UpdatedAt, err = sharedPersistence.ParseSQLiteTime(updatedAt); err != nil {
		return domain.Record{}, err
	}
	if rec.CompletedAt, err = sharedPersistence.ParseNullSQLiteTime(completedAt); err != nil {
		return domain.Record{}, err
	}
	if rec.RefundedAt, err = sharedPersistence.ParseNullSQLiteTime(refundedAt); err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func dominantStatuses(records []domain.Record) map[string]domain.Status {
	byContent := make(map[string][]domain.Record)
	for _, rec := range records {
		byContent[rec.ContentID] = append(byContent[rec.ContentID], rec)
	}

	statuses := make(map[string]domain.Status, len(byContent))
	for contentID, recs := range byContent {
		if rec, ok := domain.Dominant(recs); ok {
			statuses[contentID] = rec.Status
		}
	}
	return statuses
}
