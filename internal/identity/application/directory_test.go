package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[uuid.UUID]domain.User
	upserts int
	err     error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]domain.User)}
}

func (f *fakeUserRepo) Upsert(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts++
	f.users[user.ID] = *user
	return nil
}

func (f *fakeUserRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &user, nil
}

func TestDirectory_RememberThrottlesWrites(t *testing.T) {
	repo := newFakeUserRepo()
	dir, err := NewDirectory(repo, 10, time.Hour, nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir.now = func() time.Time { return now }
	identity := testIdentity(t)
	ctx := context.Background()

	dir.Remember(ctx, identity)
	dir.Remember(ctx, identity)
	assert.Equal(t, 1, repo.upserts)

	now = now.Add(2 * time.Hour)
	dir.Remember(ctx, identity)
	assert.Equal(t, 2, repo.upserts)

	dir.Remember(ctx, domain.Anonymous)
	assert.Equal(t, 2, repo.upserts)
}

func TestDirectory_RememberFailureIsRetried(t *testing.T) {
	repo := newFakeUserRepo()
	repo.err = errors.New("database is locked")
	dir, err := NewDirectory(repo, 10, time.Hour, nil)
	require.NoError(t, err)
	identity := testIdentity(t)

	dir.Remember(context.Background(), identity)
	repo.err = nil
	dir.Remember(context.Background(), identity)

	assert.Equal(t, 1, repo.upserts)
}

func TestDirectory_Lookup(t *testing.T) {
	repo := newFakeUserRepo()
	dir, err := NewDirectory(repo, 10, time.Hour, nil)
	require.NoError(t, err)
	identity := testIdentity(t)

	_, err = dir.Lookup(context.Background(), identity.UserID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	dir.Remember(context.Background(), identity)
	got, err := dir.Lookup(context.Background(), identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, identity, got)
}
