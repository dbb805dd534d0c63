package application

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// StatusFilter narrows a unified listing by entitlement or progress.
type StatusFilter string

const (
	StatusAny        StatusFilter = ""
	StatusGranted    StatusFilter = "granted"
	StatusLocked     StatusFilter = "locked"
	StatusInProgress StatusFilter = "in_progress"
	StatusCompleted  StatusFilter = "completed"
)

// SortKey orders a unified listing.
type SortKey string

const (
	SortRecency  SortKey = "recency"
	SortTitle    SortKey = "title"
	SortProgress SortKey = "progress"
)

// Query selects a page of the unified catalog. A zero Limit means the
// default page size.
type Query struct {
	Type   catalogDomain.Kind
	Status StatusFilter
	SortBy SortKey
	Desc   bool
	Offset int
	Limit  int
}

// Validate normalises defaults and rejects unknown values.
func (q *Query) Validate() error {
	if q.Type != "" && !q.Type.Valid() {
		return fmt.Errorf("%w: unknown content type %q", sharedDomain.ErrValidation, q.Type)
	}
	switch q.Status {
	case StatusAny, StatusGranted, StatusLocked, StatusInProgress, StatusCompleted:
	default:
		return fmt.Errorf("%w: unknown status filter %q", sharedDomain.ErrValidation, q.Status)
	}
	switch q.SortBy {
	case "":
		q.SortBy = SortRecency
	case SortRecency, SortTitle, SortProgress:
	default:
		return fmt.Errorf("%w: unknown sort key %q", sharedDomain.ErrValidation, q.SortBy)
	}
	if q.Offset < 0 || q.Limit < 0 {
		return fmt.Errorf("%w: offset and limit must not be negative", sharedDomain.ErrValidation)
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	return nil
}

// Item is one entry of a user's unified catalog.
type Item struct {
	Type        catalogDomain.Kind
	ID          string
	Slug        string
	Title       string
	Tier        catalogDomain.AccessTier
	Price       sharedDomain.Money
	Granted     bool
	Reason      domain.Reason
	NextAction  domain.NextAction
	Progress    *float64
	PublishedAt time.Time
}

// Page is a slice of the unified catalog.
type Page struct {
	Items    []Item
	Total    int
	Offset   int
	Limit    int
	Degraded bool
}

// Merger joins the catalog with the ledger and the LMS for one user. It
// holds no state; every call gathers signals in two batch lookups.
type Merger struct {
	catalog       catalogDomain.Source
	ledger        LedgerReader
	enrollments   EnrollmentChecker
	ledgerTimeout time.Duration
	logger        *slog.Logger
}

// NewMerger creates a merger.
func NewMerger(catalog catalogDomain.Source, ledger LedgerReader, enrollments EnrollmentChecker, ledgerTimeout time.Duration, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		catalog:       catalog,
		ledger:        ledger,
		enrollments:   enrollments,
		ledgerTimeout: ledgerTimeout,
		logger:        logger,
	}
}

// GetUserUnifiedContent lists every item with the user's verdict and
// course progress, filtered, sorted and paginated.
func (m *Merger) GetUserUnifiedContent(ctx context.Context, identity identityDomain.Identity, q Query) (Page, error) {
	if err := q.Validate(); err != nil {
		return Page{}, err
	}

	all, err := m.catalog.List(ctx)
	if err != nil {
		return Page{}, err
	}

	descs := make([]catalogDomain.Descriptor, 0, len(all))
	var paidIDs, courseIDs []string
	for _, d := range all {
		if q.Type != "" && d.Kind != q.Type {
			continue
		}
		descs = append(descs, d)
		if d.IsPaid() {
			paidIDs = append(paidIDs, d.ID)
			if d.Kind == catalogDomain.KindCourse {
				courseIDs = append(courseIDs, d.ID)
			}
		}
	}

	statuses, ledgerDown := m.statuses(ctx, identity, paidIDs)
	enrollments := m.enrollments.BatchCheckAccess(ctx, identity, courseIDs)

	page := Page{Offset: q.Offset, Limit: q.Limit, Degraded: ledgerDown || enrollments.Degraded}
	items := make([]Item, 0, len(descs))
	for _, d := range descs {
		var signals domain.Signals
		if d.IsPaid() {
			signals.LedgerStatus = statuses[d.ID]
			signals.LedgerUnavailable = ledgerDown
			if d.Kind == catalogDomain.KindCourse {
				signals.Enrolled = enrollments.Access[d.ID]
				signals.EnrollmentDegraded = enrollments.Degraded
			}
		}
		verdict := domain.Decide(identity, d, signals)

		item := Item{
			Type:        d.Kind,
			ID:          d.ID,
			Slug:        d.Slug,
			Title:       d.Title,
			Tier:        d.Tier,
			Price:       d.Price,
			Granted:     verdict.Granted,
			Reason:      verdict.Reason,
			NextAction:  verdict.NextAction,
			PublishedAt: d.PublishedAt,
		}
		if p, ok := enrollments.Progress[d.ID]; ok {
			item.Progress = &p
		}
		if q.Status.matches(item) {
			items = append(items, item)
		}
	}

	sortItems(items, q.SortBy, q.Desc)

	page.Total = len(items)
	start := min(q.Offset, len(items))
	end := min(start+q.Limit, len(items))
	page.Items = items[start:end]
	return page, nil
}

func (m *Merger) statuses(ctx context.Context, identity identityDomain.Identity, paidIDs []string) (map[string]purchaseDomain.Status, bool) {
	if identity.IsAnonymous() || len(paidIDs) == 0 {
		return nil, false
	}
	ctx, cancel := withTimeout(ctx, m.ledgerTimeout)
	defer cancel()

	statuses, err := m.ledger.ListStatuses(ctx, identity.UserID, paidIDs)
	if err != nil {
		m.logger.WarnContext(ctx, "ledger batch lookup failed", "user_id", identity.UserID, "error", err)
		return nil, true
	}
	return statuses, false
}

func (s StatusFilter) matches(item Item) bool {
	switch s {
	case StatusGranted:
		return item.Granted
	case StatusLocked:
		return !item.Granted
	case StatusInProgress:
		return item.Progress != nil && *item.Progress > 0 && *item.Progress < 100
	case StatusCompleted:
		return item.Progress != nil && *item.Progress >= 100
	}
	return true
}

func sortItems(items []Item, key SortKey, desc bool) {
	slices.SortStableFunc(items, func(a, b Item) int {
		var c int
		switch key {
		case SortTitle:
			c = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case SortProgress:
			c = cmp.Compare(progressOf(a), progressOf(b))
		default:
			c = a.PublishedAt.Compare(b.PublishedAt)
		}
		if desc {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(a.ID, b.ID)
		}
		return c
	})
}

func progressOf(item Item) float64 {
	if item.Progress == nil {
		return -1
	}
	return *item.Progress
}
