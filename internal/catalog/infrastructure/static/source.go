// Package static serves content descriptors from memory, optionally loaded
// from a JSON file in the content store's document format.
package static

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/cms"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/security"
)

// Source is an in-memory catalog keyed by id and slug.
type Source struct {
	mu     sync.RWMutex
	byID   map[string]catalogDomain.Descriptor
	bySlug map[string]string
}

var _ catalogDomain.Source = (*Source)(nil)

// NewSource creates a source holding the given descriptors.
func NewSource(descriptors ...catalogDomain.Descriptor) (*Source, error) {
	s := &Source{
		byID:   make(map[string]catalogDomain.Descriptor),
		bySlug: make(map[string]string),
	}
	for _, d := range descriptors {
		if err := s.Put(d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadFile builds a source from a file holding {"data": [...]}.
func LoadFile(path string) (*Source, error) {
	raw, err := security.SafeReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var envelope struct {
		Data []cms.Document `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: catalog file %s: %v", sharedDomain.ErrValidation, path, err)
	}

	descriptors := make([]catalogDomain.Descriptor, 0, len(envelope.Data))
	for _, doc := range envelope.Data {
		d, err := doc.Descriptor()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return NewSource(descriptors...)
}

// Put adds or replaces a descriptor.
func (s *Source) Put(d catalogDomain.Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byID[d.ID]; ok && old.Slug != "" {
		delete(s.bySlug, old.Slug)
	}
	s.byID[d.ID] = d
	if d.Slug != "" {
		s.bySlug[d.Slug] = d.ID
	}
	return nil
}

// Get returns the descriptor by id, then by slug.
func (s *Source) Get(_ context.Context, idOrSlug string) (catalogDomain.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.byID[idOrSlug]; ok {
		return d, nil
	}
	if id, ok := s.bySlug[idOrSlug]; ok {
		return s.byID[id], nil
	}
	return catalogDomain.Descriptor{}, catalogDomain.ErrContentNotFound
}

// List returns every descriptor ordered by id.
func (s *Source) List(context.Context) ([]catalogDomain.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]catalogDomain.Descriptor, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
