package domain

import (
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidToken is returned when a bearer token is present but unusable.
// Callers treat it as unauthenticated, never as anonymous.
var ErrInvalidToken = errors.New("invalid bearer token")

// Identity is the resolved caller of a request. The zero value is anonymous.
type Identity struct {
	UserID uuid.UUID
	Email  Email
}

// Anonymous is the identity of a request without credentials.
var Anonymous = Identity{}

// NewIdentity creates an authenticated identity.
func NewIdentity(userID uuid.UUID, email string) (Identity, error) {
	if userID == uuid.Nil {
		return Identity{}, ErrInvalidToken
	}
	addr, err := NewEmail(email)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Email: addr}, nil
}

// IsAnonymous reports whether the caller is unauthenticated.
func (i Identity) IsAnonymous() bool {
	return i.UserID == uuid.Nil
}
