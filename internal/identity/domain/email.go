package domain

import (
	"fmt"
	"regexp"
	"strings"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

// ErrInvalidEmail is returned for addresses that cannot key an LMS lookup.
var ErrInvalidEmail = fmt.Errorf("%w: invalid email address", sharedDomain.ErrValidation)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Email represents a validated, lower-cased email address.
type Email struct {
	value string
}

// NewEmail creates a validated email address.
func NewEmail(value string) (Email, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" || !emailRegex.MatchString(value) {
		return Email{}, ErrInvalidEmail
	}
	return Email{value: value}, nil
}

// String returns the email string.
func (e Email) String() string {
	return e.value
}

// IsZero reports whether no address is set.
func (e Email) IsZero() bool {
	return e.value == ""
}

// Equals checks if two emails are equal.
func (e Email) Equals(other Email) bool {
	return e.value == other.value
}
