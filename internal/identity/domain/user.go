package domain

import (
	"context"
	"fmt"
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user is known for an id.
var ErrUserNotFound = fmt.Errorf("user %w", sharedDomain.ErrNotFound)

// User is a caller the service has seen at least once.
type User struct {
	ID         uuid.UUID
	Email      Email
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// NewUser records the first sighting of an identity.
func NewUser(identity Identity, at time.Time) *User {
	at = at.UTC()
	return &User{
		ID:         identity.UserID,
		Email:      identity.Email,
		CreatedAt:  at,
		LastSeenAt: at,
	}
}

// Identity returns the identity for the user.
func (u *User) Identity() Identity {
	return Identity{UserID: u.ID, Email: u.Email}
}

// UserRepository persists known users.
type UserRepository interface {
	// Upsert inserts the user or refreshes email and last-seen time.
	Upsert(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
}
