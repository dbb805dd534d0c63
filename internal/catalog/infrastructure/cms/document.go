package cms

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

// Document is the content store's JSON shape for one item.
type Document struct {
	ID          string      `json:"id"`
	Slug        string      `json:"slug"`
	Title       string      `json:"title"`
	Type        string      `json:"type"`
	AccessTier  string      `json:"accessTier"`
	Price       json.Number `json:"price"`
	Currency    string      `json:"currency"`
	PublishedAt string      `json:"publishedAt"`
}

// Descriptor converts and validates the document. Anything the rest of the
// system cannot trust fails with ErrValidation.
func (d Document) Descriptor() (catalogDomain.Descriptor, error) {
	tier, err := catalogDomain.ParseAccessTier(d.AccessTier)
	if err != nil {
		return catalogDomain.Descriptor{}, err
	}

	desc := catalogDomain.Descriptor{
		ID:    strings.TrimSpace(d.ID),
		Slug:  strings.TrimSpace(d.Slug),
		Title: strings.TrimSpace(d.Title),
		Kind:  catalogDomain.Kind(strings.ToLower(strings.TrimSpace(d.Type))),
		Tier:  tier,
	}

	if d.Price != "" {
		desc.Price, err = sharedDomain.ParseMoney(d.Price.String(), d.Currency)
		if err != nil {
			return catalogDomain.Descriptor{}, fmt.Errorf("content %s: %w", d.ID, err)
		}
	}

	if d.PublishedAt != "" {
		desc.PublishedAt, err = time.Parse(time.RFC3339, d.PublishedAt)
		if err != nil {
			return catalogDomain.Descriptor{}, fmt.Errorf("%w: content %s publishedAt %q", sharedDomain.ErrValidation, d.ID, d.PublishedAt)
		}
		desc.PublishedAt = desc.PublishedAt.UTC()
	}

	if err := desc.Validate(); err != nil {
		return catalogDomain.Descriptor{}, err
	}
	return desc, nil
}
