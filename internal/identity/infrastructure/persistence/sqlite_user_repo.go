package persistence

import (
	"context"
	"database/sql"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
)

// SQLiteUserRepository handles persistence for users using SQLite.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLiteUserRepository.
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{db: db}
}

// Upsert inserts the user or refreshes email and last-seen time.
func (r *SQLiteUserRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, created_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			last_seen_at = excluded.last_seen_at
	`
	_, err := sharedPersistence.SQLiteExec(ctx, r.db).ExecContext(ctx, query,
		user.ID.String(),
		user.Email.String(),
		sharedPersistence.FormatSQLiteTime(user.CreatedAt),
		sharedPersistence.FormatSQLiteTime(user.LastSeenAt),
	)
	return err
}

// FindByID retrieves a user by id.
func (r *SQLiteUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, created_at, last_seen_at FROM users WHERE id = ?`

	var rawID, rawEmail, createdAt, lastSeenAt string
	err := sharedPersistence.SQLiteExec(ctx, r.db).QueryRowContext(ctx, query, id.String()).
		Scan(&rawID, &rawEmail, &createdAt, &lastSeenAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	user := &domain.User{}
	if user.ID, err = uuid.Parse(rawID); err != nil {
		return nil, err
	}
	if user.Email, err = domain.NewEmail(rawEmail); err != nil {
		return nil, err
	}
	if user.CreatedAt, err = sharedPersistence.ParseSQLiteTime(createdAt); err != nil {
		return nil, err
	}
	if user.LastSeenAt, err = sharedPersistence.ParseSQLiteTime(lastSeenAt); err != nil {
		return nil, err
	}
	return user, nil
}
