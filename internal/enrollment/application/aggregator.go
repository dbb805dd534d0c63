// Package application answers batch enrollment checks with a bounded-staleness
// cache in front of the LMS.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

// Config tunes the aggregator.
type Config struct {
	// FreshTTL is how long a cached answer is served without asking the LMS.
	FreshTTL time.Duration
	// FallbackWindow is how old a cached answer may be when the LMS is down.
	FallbackWindow time.Duration
	CacheSize      int
	// Timeout bounds each LMS batch call.
	Timeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FreshTTL:       time.Minute,
		FallbackWindow: 15 * time.Minute,
		CacheSize:      50000,
		Timeout:        4 * time.Second,
	}
}

type entry struct {
	enrolled  bool
	progress  float64
	fetchedAt time.Time
}

// Aggregator implements batch enrollment checks.
type Aggregator struct {
	lms     domain.Directory
	cfg     Config
	cache   *lru.Cache[string, entry]
	group   singleflight.Group
	guard   *resilience.Guard[[]domain.Enrollment]
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(lms domain.Directory, cfg Config, logger *slog.Logger, metrics observability.Metrics) (*Aggregator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if cfg.FallbackWindow < cfg.FreshTTL {
		cfg.FallbackWindow = cfg.FreshTTL
	}

	cache, err := lru.New[string, entry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("enrollment cache: %w", err)
	}

	return &Aggregator{
		lms:     lms,
		cfg:     cfg,
		cache:   cache,
		guard:   resilience.NewGuard[[]domain.Enrollment](resilience.DefaultConfig("lms", cfg.Timeout), logger, metrics),
		logger:  logger,
		metrics: observability.OrNoop(metrics),
		now:     time.Now,
	}, nil
}

// BatchCheckAccess reports enrollment for each course. At most one LMS call
// is made, for the courses without a fresh cached answer. The call never
// fails: when the LMS is unavailable the result is marked degraded.
func (a *Aggregator) BatchCheckAccess(ctx context.Context, identity identityDomain.Identity, courseIDs []string) domain.BatchResult {
	ids := uniqueIDs(courseIDs)
	result := domain.NewBatchResult(ids)
	if len(ids) == 0 || identity.IsAnonymous() || identity.Email.IsZero() {
		return result
	}

	now := a.now()
	var missing []string
	for _, id := range ids {
		e, ok := a.cache.Get(cacheKey(identity, id))
		if ok && now.Sub(e.fetchedAt) < a.cfg.FreshTTL {
			apply(&result, id, e)
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result
	}

	enrollments, err := a.fetch(ctx, identity, missing)
	if err != nil {
		a.logger.WarnContext(ctx, "lms unavailable, serving cached enrollments",
			"user_id", identity.UserID, "courses", len(missing), "error", err)
		a.metrics.Counter(observability.MetricEnrollmentDegraded, 1)

		result.Degraded = true
		for _, id := range missing {
			if e, ok := a.cache.Get(cacheKey(identity, id)); ok && now.Sub(e.fetchedAt) < a.cfg.FallbackWindow {
				apply(&result, id, e)
			}
		}
		return result
	}

	byCourse := make(map[string]domain.Enrollment, len(enrollments))
	for _, e := range enrollments {
		byCourse[e.CourseID] = e
	}
	fetchedAt := a.now()
	for _, id := range missing {
		e := entry{fetchedAt: fetchedAt}
		if enr, ok := byCourse[id]; ok {
			e.enrolled = true
			e.progress = enr.Progress
		}
		a.cache.Add(cacheKey(identity, id), e)
		apply(&result, id, e)
	}
	return result
}

// Invalidate drops every cached answer for a user, so the next check asks
// the LMS again.
func (a *Aggregator) Invalidate(identity identityDomain.Identity) {
	prefix := identity.UserID.String() + "|"
	for _, key := range a.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			a.cache.Remove(key)
		}
	}
}

// fetch collapses identical concurrent batches into one LMS call. The shared
// call is detached from any single caller's cancellation and bounded by the
// guard's timeout instead.
func (a *Aggregator) fetch(ctx context.Context, identity identityDomain.Identity, courseIDs []string) ([]domain.Enrollment, error) {
	key := identity.UserID.String() + "|" + strings.Join(courseIDs, ",")
	email := identity.Email.String()

	ch := a.group.DoChan(key, func() (any, error) {
		timer := observability.StartTimer("lms.enrollments").WithLogger(a.logger).WithMetrics(a.metrics)
		enrollments, err := a.guard.Do(context.WithoutCancel(ctx), func(ctx context.Context) ([]domain.Enrollment, error) {
			return a.lms.Enrollments(ctx, email, courseIDs)
		})
		timer.StopWithError(err)

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		a.metrics.Counter(observability.MetricEnrollmentUpstream, 1, observability.T("outcome", outcome))
		return enrollments, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]domain.Enrollment), nil
	}
}

func apply(result *domain.BatchResult, courseID string, e entry) {
	result.Access[courseID] = e.enrolled
	if e.enrolled {
		result.Progress[courseID] = e.progress
	}
}

func cacheKey(identity identityDomain.Identity, courseID string) string {
	return identity.UserID.String() + "|" + courseID
}

// uniqueIDs returns the non-empty ids sorted and deduplicated, which also
// makes singleflight keys order-independent.
func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
