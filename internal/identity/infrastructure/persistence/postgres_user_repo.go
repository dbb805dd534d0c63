package persistence

import (
	"context"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserRepository handles persistence for users using PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgresUserRepository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Upsert inserts the user or refreshes email and last-seen time.
func (r *PostgresUserRepository) Upsert(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, created_at, last_seen_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			last_seen_at = EXCLUDED.last_seen_at
	`
	_, err := sharedPersistence.Executor(ctx, r.pool).Exec(ctx, query,
		user.ID, user.Email.String(), user.CreatedAt, user.LastSeenAt)
	return err
}

// FindByID retrieves a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT id, email, created_at, last_seen_at FROM users WHERE id = $1`

	var (
		user     domain.User
		rawEmail string
	)
	err := sharedPersistence.Executor(ctx, r.pool).QueryRow(ctx, query, id).
		Scan(&user.ID, &rawEmail, &user.CreatedAt, &user.LastSeenAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	if user.Email, err = domain.NewEmail(rawEmail); err != nil {
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.LastSeenAt = user.LastSeenAt.UTC()
	return &user, nil
}
