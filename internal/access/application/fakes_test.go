package application

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/static"
	enrollmentDomain "github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var errLedgerDown = errors.New("database is closed")

type fakeLedger struct {
	statuses   map[string]purchaseDomain.Status
	err        error
	queryCalls atomic.Int32
	listCalls  atomic.Int32
}

func (f *fakeLedger) QueryStatus(_ context.Context, _ uuid.UUID, contentID string) (purchaseDomain.Status, bool, error) {
	f.queryCalls.Add(1)
	if f.err != nil {
		return "", false, f.err
	}
	s, ok := f.statuses[contentID]
	return s, ok, nil
}

func (f *fakeLedger) ListStatuses(_ context.Context, _ uuid.UUID, contentIDs []string) (map[string]purchaseDomain.Status, error) {
	f.listCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]purchaseDomain.Status{}
	for _, id := range contentIDs {
		if s, ok := f.statuses[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

type fakeEnrollments struct {
	progress map[string]float64
	degraded bool
	calls    atomic.Int32
	lastIDs  []string
}

func (f *fakeEnrollments) BatchCheckAccess(_ context.Context, identity identityDomain.Identity, courseIDs []string) enrollmentDomain.BatchResult {
	f.calls.Add(1)
	f.lastIDs = courseIDs
	res := enrollmentDomain.NewBatchResult(courseIDs)
	if identity.IsAnonymous() {
		return res
	}
	res.Degraded = f.degraded
	if f.degraded {
		return res
	}
	for _, id := range courseIDs {
		if p, ok := f.progress[id]; ok {
			res.Access[id] = true
			res.Progress[id] = p
		}
	}
	return res
}

func day(d int) time.Time {
	return time.Date(2026, 1, d, 9, 0, 0, 0, time.UTC)
}

func newCatalog(t *testing.T) *static.Source {
	t.Helper()
	price := sharedDomain.Money{Amount: 1000, Currency: "CHF"}
	src, err := static.NewSource(
		catalogDomain.Descriptor{ID: "o1", Slug: "welcome", Title: "Welcome", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierOpen, PublishedAt: day(1)},
		catalogDomain.Descriptor{ID: "m1", Slug: "members", Title: "Members Only", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierAuthenticated, PublishedAt: day(2)},
		catalogDomain.Descriptor{ID: "a1", Slug: "pricing", Title: "Pricing Deep Dive", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierPaid, Price: price, PublishedAt: day(3)},
		catalogDomain.Descriptor{ID: "a2", Slug: "billing", Title: "Billing Basics", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierPaid, Price: price, PublishedAt: day(4)},
		catalogDomain.Descriptor{ID: "c1", Slug: "go", Title: "Go Course", Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid, Price: price, PublishedAt: day(5)},
		catalogDomain.Descriptor{ID: "c2", Slug: "sql", Title: "SQL Course", Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid, Price: price, PublishedAt: day(6)},
		catalogDomain.Descriptor{ID: "c3", Slug: "k8s", Title: "Kubernetes Course", Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid, Price: price, PublishedAt: day(7)},
	)
	require.NoError(t, err)
	return src
}

func newUser(t *testing.T) identityDomain.Identity {
	t.Helper()
	id, err := identityDomain.NewIdentity(uuid.New(), "reader@example.com")
	require.NoError(t, err)
	return id
}
