package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Directory records the users the service has seen so offline tools can
// resolve a user id back to the email the LMS is keyed by.
type Directory struct {
	repo    domain.UserRepository
	seen    *lru.Cache[uuid.UUID, time.Time]
	refresh time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewDirectory creates a directory. Sightings of the same user are written at
// most once per refresh interval.
func NewDirectory(repo domain.UserRepository, size int, refresh time.Duration, logger *slog.Logger) (*Directory, error) {
	if size <= 0 {
		size = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := lru.New[uuid.UUID, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &Directory{
		repo:    repo,
		seen:    seen,
		refresh: refresh,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Remember upserts an authenticated identity. Failures are logged and
// swallowed; the directory never blocks an access decision.
func (d *Directory) Remember(ctx context.Context, identity domain.Identity) {
	if identity.IsAnonymous() {
		return
	}

	now := d.now()
	if last, ok := d.seen.Get(identity.UserID); ok && now.Sub(last) < d.refresh {
		return
	}

	if err := d.repo.Upsert(ctx, domain.NewUser(identity, now)); err != nil {
		d.logger.WarnContext(ctx, "failed to record user", "user_id", identity.UserID, "error", err)
		return
	}
	d.seen.Add(identity.UserID, now)
}

// Lookup returns the identity last recorded for a user id.
func (d *Directory) Lookup(ctx context.Context, userID uuid.UUID) (domain.Identity, error) {
	user, err := d.repo.FindByID(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	return user.Identity(), nil
}
