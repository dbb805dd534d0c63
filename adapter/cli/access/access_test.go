package access

import (
	"bytes"
	"context"
	"testing"

	"github.com/felixgeelhaar/tollgate/adapter/cli"
	accessDomain "github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUsers map[uuid.UUID]identityDomain.Identity

func (s stubUsers) Lookup(_ context.Context, id uuid.UUID) (identityDomain.Identity, error) {
	identity, ok := s[id]
	if !ok {
		return identityDomain.Identity{}, identityDomain.ErrUserNotFound
	}
	return identity, nil
}

type stubResolver struct {
	seen    []identityDomain.Identity
	verdict accessDomain.Verdict
}

func (s *stubResolver) ResolveContent(_ context.Context, identity identityDomain.Identity, idOrSlug string) (accessDomain.Verdict, catalogDomain.Descriptor, error) {
	s.seen = append(s.seen, identity)
	desc := catalogDomain.Descriptor{ID: idOrSlug, Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid}
	return s.verdict, desc, nil
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&out)
	Cmd.SetArgs(args)
	err := Cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAccessCheck(t *testing.T) {
	userID := uuid.New()
	identity, err := identityDomain.NewIdentity(userID, "reader@example.com")
	require.NoError(t, err)

	resolver := &stubResolver{verdict: accessDomain.Verdict{
		Reason:     accessDomain.ReasonUpstreamUnavailable,
		NextAction: accessDomain.ActionRetry,
		Degraded:   true,
	}}
	cli.SetApp(&cli.App{Access: resolver, Users: stubUsers{userID: identity}})
	t.Cleanup(func() { cli.SetApp(nil) })

	out, err := run(t, "check", userID.String(), "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "DENIED c1 (course, paid)")
	assert.Contains(t, out, "Next:   retry")
	assert.Contains(t, out, "unreachable")
	require.Len(t, resolver.seen, 1)
	assert.Equal(t, identity, resolver.seen[0])

	resolver.verdict = accessDomain.Verdict{Granted: true, Reason: accessDomain.ReasonOpen}
	out, err = run(t, "check", "anonymous", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "GRANTED c1")
	assert.True(t, resolver.seen[1].IsAnonymous())
}

func TestAccessCheck_UnknownUser(t *testing.T) {
	cli.SetApp(&cli.App{Access: &stubResolver{}, Users: stubUsers{}})
	t.Cleanup(func() { cli.SetApp(nil) })

	_, err := run(t, "check", uuid.New().String(), "c1")
	assert.ErrorContains(t, err, "has not been seen yet")

	_, err = run(t, "check", "someone", "c1")
	assert.ErrorContains(t, err, "invalid user id")
}
