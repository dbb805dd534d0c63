package application

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func newTestMerger(t *testing.T) (*Merger, *fakeLedger, *fakeEnrollments) {
	ledger := &fakeLedger{statuses: map[string]purchaseDomain.Status{
		"a1": purchaseDomain.StatusCompleted,
		"a2": purchaseDomain.StatusPending,
	}}
	enrollments := &fakeEnrollments{progress: map[string]float64{"c1": 40, "c2": 100}}
	return NewMerger(newCatalog(t), ledger, enrollments, time.Second, nil), ledger, enrollments
}

func TestMerger_BatchesSignals(t *testing.T) {
	merger, ledger, enrollments := newTestMerger(t)

	page, err := merger.GetUserUnifiedContent(context.Background(), newUser(t), Query{})
	require.NoError(t, err)

	assert.Equal(t, int32(1), ledger.listCalls.Load())
	assert.Zero(t, ledger.queryCalls.Load())
	assert.Equal(t, int32(1), enrollments.calls.Load())
	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, enrollments.lastIDs)

	assert.Equal(t, 7, page.Total)
	assert.Equal(t, DefaultPageSize, page.Limit)
	assert.False(t, page.Degraded)
	// Recency ascending by default.
	assert.Equal(t, []string{"o1", "m1", "a1", "a2", "c1", "c2", "c3"}, ids(page.Items))

	byID := map[string]Item{}
	for _, it := range page.Items {
		byID[it.ID] = it
	}
	assert.Equal(t, domain.ReasonPurchased, byID["a1"].Reason)
	assert.Equal(t, domain.ReasonPaymentPending, byID["a2"].Reason)
	assert.Equal(t, domain.ReasonEnrolled, byID["c1"].Reason)
	require.NotNil(t, byID["c1"].Progress)
	assert.Equal(t, 40.0, *byID["c1"].Progress)
	assert.Nil(t, byID["c3"].Progress)
	assert.Equal(t, domain.ActionEnroll, byID["c3"].NextAction)
}

func TestMerger_FiltersAndSorting(t *testing.T) {
	merger, _, _ := newTestMerger(t)
	ctx := context.Background()
	user := newUser(t)

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"courses newest first", Query{Type: catalogDomain.KindCourse, Desc: true}, []string{"c3", "c2", "c1"}},
		{"granted", Query{Status: StatusGranted}, []string{"o1", "m1", "a1", "c1", "c2"}},
		{"locked", Query{Status: StatusLocked}, []string{"a2", "c3"}},
		{"in progress", Query{Status: StatusInProgress}, []string{"c1"}},
		{"completed", Query{Status: StatusCompleted}, []string{"c2"}},
		{"title", Query{Type: catalogDomain.KindArticle, SortBy: SortTitle}, []string{"a2", "m1", "a1", "o1"}},
		{"progress desc", Query{Type: catalogDomain.KindCourse, SortBy: SortProgress, Desc: true}, []string{"c2", "c1", "c3"}},
		{"paginated", Query{Offset: 2, Limit: 2}, []string{"a1", "a2"}},
		{"offset past end", Query{Offset: 50}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := merger.GetUserUnifiedContent(ctx, user, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(page.Items))
		})
	}
}

func TestMerger_Anonymous(t *testing.T) {
	merger, ledger, _ := newTestMerger(t)

	page, err := merger.GetUserUnifiedContent(context.Background(), identityDomain.Anonymous, Query{Status: StatusGranted})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1"}, ids(page.Items))
	assert.Zero(t, ledger.listCalls.Load())
}

func TestMerger_Degraded(t *testing.T) {
	ledger := &fakeLedger{err: errLedgerDown}
	merger := NewMerger(newCatalog(t), ledger, &fakeEnrollments{degraded: true}, time.Second, nil)

	page, err := merger.GetUserUnifiedContent(context.Background(), newUser(t), Query{Status: StatusGranted})
	require.NoError(t, err)
	assert.True(t, page.Degraded)
	assert.Equal(t, []string{"o1", "m1"}, ids(page.Items))
}

func TestMerger_InvalidQuery(t *testing.T) {
	merger, _, _ := newTestMerger(t)
	ctx := context.Background()
	user := newUser(t)

	for _, q := range []Query{
		{Type: "podcast"},
		{Status: "archived"},
		{SortBy: "price"},
		{Offset: -1},
	} {
		_, err := merger.GetUserUnifiedContent(ctx, user, q)
		assert.ErrorIs(t, err, sharedDomain.ErrValidation)
	}
}
