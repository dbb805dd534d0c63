package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

// ErrContentNotFound is returned by a Source for an unknown id or slug.
var ErrContentNotFound = fmt.Errorf("content %w", sharedDomain.ErrNotFound)

// Kind distinguishes articles from courses.
type Kind string

const (
	KindArticle Kind = "article"
	KindCourse  Kind = "course"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindArticle || k == KindCourse
}

// AccessTier is the minimum entitlement required to view an item.
type AccessTier string

const (
	TierOpen          AccessTier = "open"
	TierAuthenticated AccessTier = "authenticated"
	TierPaid          AccessTier = "paid"
)

// ParseAccessTier normalises a tier name from an upstream payload.
func ParseAccessTier(s string) (AccessTier, error) {
	switch tier := AccessTier(strings.ToLower(strings.TrimSpace(s))); tier {
	case TierOpen, TierAuthenticated, TierPaid:
		return tier, nil
	default:
		return "", fmt.Errorf("%w: access tier %q", sharedDomain.ErrValidation, s)
	}
}

// Descriptor describes what a content item requires. It is immutable once
// fetched; the price may change upstream between fetches.
type Descriptor struct {
	ID          string
	Slug        string
	Title       string
	Kind        Kind
	Tier        AccessTier
	Price       sharedDomain.Money
	PublishedAt time.Time
}

// Validate checks the invariants every adapter must uphold before handing a
// descriptor to the rest of the system.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: content id is empty", sharedDomain.ErrValidation)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: content %s has unknown kind %q", sharedDomain.ErrValidation, d.ID, d.Kind)
	}
	if _, err := ParseAccessTier(string(d.Tier)); err != nil {
		return err
	}
	if d.Tier == TierPaid && (d.Price.IsZero() || d.Price.Currency == "") {
		return fmt.Errorf("%w: paid content %s has no price", sharedDomain.ErrValidation, d.ID)
	}
	return nil
}

// IsPaid reports whether the descriptor requires a purchase or enrollment.
func (d Descriptor) IsPaid() bool {
	return d.Tier == TierPaid
}

// Source reads content descriptors from the content store.
type Source interface {
	// Get returns the descriptor for an id or slug, or ErrContentNotFound.
	Get(ctx context.Context, idOrSlug string) (Descriptor, error)

	// List returns every published descriptor.
	List(ctx context.Context) ([]Descriptor, error)
}
