// Package cache decorates a catalog source with a Redis read-through cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "tollgate:content:"
	listKey   = "tollgate:content-list"
)

// entry is the cached form of a descriptor.
type entry struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug,omitempty"`
	Title       string    `json:"title,omitempty"`
	Kind        string    `json:"kind"`
	Tier        string    `json:"tier"`
	PriceAmount int64     `json:"price_amount"`
	Currency    string    `json:"currency,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

func toEntry(d catalogDomain.Descriptor) entry {
	return entry{
		ID:          d.ID,
		Slug:        d.Slug,
		Title:       d.Title,
		Kind:        string(d.Kind),
		Tier:        string(d.Tier),
		PriceAmount: d.Price.Amount,
		Currency:    d.Price.Currency,
		PublishedAt: d.PublishedAt,
	}
}

func (e entry) descriptor() catalogDomain.Descriptor {
	return catalogDomain.Descriptor{
		ID:          e.ID,
		Slug:        e.Slug,
		Title:       e.Title,
		Kind:        catalogDomain.Kind(e.Kind),
		Tier:        catalogDomain.AccessTier(e.Tier),
		Price:       sharedDomain.Money{Amount: e.PriceAmount, Currency: e.Currency},
		PublishedAt: e.PublishedAt,
	}
}

// Source caches descriptors from the next source. Redis failures fall
// through to the next source; not-found answers are never cached.
type Source struct {
	next    catalogDomain.Source
	client  redis.UniversalClient
	ttl     time.Duration
	logger  *slog.Logger
	metrics observability.Metrics
}

var _ catalogDomain.Source = (*Source)(nil)

// NewSource wraps next. A non-positive ttl disables caching.
func NewSource(next catalogDomain.Source, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger, metrics observability.Metrics) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		next:    next,
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: observability.OrNoop(metrics),
	}
}

// Get returns a cached descriptor or reads through to the next source.
func (s *Source) Get(ctx context.Context, idOrSlug string) (catalogDomain.Descriptor, error) {
	if s.ttl <= 0 {
		return s.next.Get(ctx, idOrSlug)
	}

	var cached entry
	if s.load(ctx, keyPrefix+idOrSlug, &cached) {
		return cached.descriptor(), nil
	}

	desc, err := s.next.Get(ctx, idOrSlug)
	if err != nil {
		return catalogDomain.Descriptor{}, err
	}

	s.store(ctx, keyPrefix+idOrSlug, toEntry(desc))
	if desc.ID != idOrSlug {
		s.store(ctx, keyPrefix+desc.ID, toEntry(desc))
	}
	return desc, nil
}

// List returns the cached listing or reads through to the next source.
func (s *Source) List(ctx context.Context) ([]catalogDomain.Descriptor, error) {
	if s.ttl <= 0 {
		return s.next.List(ctx)
	}

	var cached []entry
	if s.load(ctx, listKey, &cached) {
		out := make([]catalogDomain.Descriptor, len(cached))
		for i, e := range cached {
			out[i] = e.descriptor()
		}
		return out, nil
	}

	list, err := s.next.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]entry, len(list))
	for i, d := range list {
		entries[i] = toEntry(d)
	}
	s.store(ctx, listKey, entries)
	return list, nil
}

func (s *Source) load(ctx context.Context, key string, dst any) bool {
	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		s.metrics.Counter(observability.MetricContentCache, 1, observability.T("result", "miss"))
		return false
	case err != nil:
		s.logger.WarnContext(ctx, "content cache read failed", "key", key, "error", err)
		s.metrics.Counter(observability.MetricContentCache, 1, observability.T("result", "error"))
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		s.logger.WarnContext(ctx, "discarding corrupt content cache entry", "key", key, "error", err)
		return false
	}
	s.metrics.Counter(observability.MetricContentCache, 1, observability.T("result", "hit"))
	return true
}

func (s *Source) store(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "content cache write failed", "key", key, "error", err)
	}
}
