package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    string
	}{
		{"valid email", "user@example.com", false, "user@example.com"},
		{"uppercase", "USER@EXAMPLE.COM", false, "user@example.com"},
		{"with spaces", "  user@example.com  ", false, "user@example.com"},
		{"with plus", "user+tag@example.com", false, "user+tag@example.com"},
		{"empty", "", true, ""},
		{"no @", "userexample.com", true, ""},
		{"no domain", "user@", true, ""},
		{"multiple @", "user@@example.com", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email, err := domain.NewEmail(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidEmail)
				assert.True(t, sharedDomain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, email.String())
		})
	}
}

func TestIdentity(t *testing.T) {
	assert.True(t, domain.Anonymous.IsAnonymous())
	assert.True(t, domain.Anonymous.Email.IsZero())

	id := uuid.New()
	identity, err := domain.NewIdentity(id, "Ada@Example.com")
	require.NoError(t, err)
	assert.False(t, identity.IsAnonymous())
	assert.Equal(t, "ada@example.com", identity.Email.String())

	_, err = domain.NewIdentity(uuid.Nil, "ada@example.com")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = domain.NewIdentity(id, "not-an-email")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
}

func TestNewUser(t *testing.T) {
	identity, err := domain.NewIdentity(uuid.New(), "ada@example.com")
	require.NoError(t, err)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))

	user := domain.NewUser(identity, at)

	assert.Equal(t, identity, user.Identity())
	assert.Equal(t, time.UTC, user.CreatedAt.Location())
	assert.Equal(t, user.CreatedAt, user.LastSeenAt)
}
