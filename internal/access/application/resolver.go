// Package application gathers entitlement signals and applies the access
// policy to single items and to a user's whole catalog.
package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	enrollmentDomain "github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
)

// LedgerReader is the read side of the purchase ledger.
type LedgerReader interface {
	QueryStatus(ctx context.Context, userID uuid.UUID, contentID string) (purchaseDomain.Status, bool, error)
	ListStatuses(ctx context.Context, userID uuid.UUID, contentIDs []string) (map[string]purchaseDomain.Status, error)
}

// EnrollmentChecker answers batch enrollment checks without failing.
type EnrollmentChecker interface {
	BatchCheckAccess(ctx context.Context, identity identityDomain.Identity, courseIDs []string) enrollmentDomain.BatchResult
}

// Resolver resolves the verdict for one item.
type Resolver struct {
	catalog       catalogDomain.Source
	ledger        LedgerReader
	enrollments   EnrollmentChecker
	ledgerTimeout time.Duration
	logger        *slog.Logger
	metrics       observability.Metrics
}

// NewResolver creates a resolver.
func NewResolver(
	catalog catalogDomain.Source,
	ledger LedgerReader,
	enrollments EnrollmentChecker,
	ledgerTimeout time.Duration,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		catalog:       catalog,
		ledger:        ledger,
		enrollments:   enrollments,
		ledgerTimeout: ledgerTimeout,
		logger:        logger,
		metrics:       observability.OrNoop(metrics),
	}
}

// ResolveContent looks the item up in the catalog and resolves it.
func (r *Resolver) ResolveContent(ctx context.Context, identity identityDomain.Identity, idOrSlug string) (domain.Verdict, catalogDomain.Descriptor, error) {
	desc, err := r.catalog.Get(ctx, idOrSlug)
	if err != nil {
		return domain.Verdict{}, catalogDomain.Descriptor{}, err
	}
	return r.Resolve(ctx, identity, desc), desc, nil
}

// Resolve gathers signals for a paid item and decides. Open and
// authenticated items are decided without any upstream call.
func (r *Resolver) Resolve(ctx context.Context, identity identityDomain.Identity, desc catalogDomain.Descriptor) domain.Verdict {
	var signals domain.Signals
	if desc.IsPaid() && !identity.IsAnonymous() {
		signals = r.gather(ctx, identity, desc)
	}

	verdict := domain.Decide(identity, desc, signals)
	r.metrics.Counter(observability.MetricAccessVerdicts, 1,
		observability.T("reason", string(verdict.Reason)))
	if verdict.Degraded {
		r.logger.WarnContext(ctx, "access denied while degraded",
			"content_id", desc.ID, "user_id", identity.UserID)
	}
	return verdict
}

func (r *Resolver) gather(ctx context.Context, identity identityDomain.Identity, desc catalogDomain.Descriptor) domain.Signals {
	var signals domain.Signals

	ledgerCtx, cancel := withTimeout(ctx, r.ledgerTimeout)
	status, found, err := r.ledger.QueryStatus(ledgerCtx, identity.UserID, desc.ID)
	cancel()
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "ledger lookup failed", "content_id", desc.ID, "error", err)
		signals.LedgerUnavailable = true
	case found:
		signals.LedgerStatus = status
	}

	// A completed purchase settles it; skip the LMS.
	if desc.Kind == catalogDomain.KindCourse && signals.LedgerStatus != purchaseDomain.StatusCompleted {
		res := r.enrollments.BatchCheckAccess(ctx, identity, []string{desc.ID})
		signals.Enrolled = res.Access[desc.ID]
		signals.EnrollmentDegraded = res.Degraded
	}
	return signals
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
