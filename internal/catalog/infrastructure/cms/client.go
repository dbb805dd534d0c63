// Package cms reads content descriptors from the headless content store.
package cms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

const maxBodyBytes = 4 << 20

// Config configures the CMS client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// Client implements catalogDomain.Source against the content store's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	guard   *resilience.Guard[[]byte]
	logger  *slog.Logger
}

var _ catalogDomain.Source = (*Client)(nil)

// NewClient creates a CMS client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger, metrics observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.APIToken,
		http:    httpClient,
		guard:   resilience.NewGuard[[]byte](resilience.DefaultConfig("cms", cfg.Timeout), logger, metrics),
		logger:  logger,
	}
}

// Get returns the descriptor for an id or slug.
func (c *Client) Get(ctx context.Context, idOrSlug string) (catalogDomain.Descriptor, error) {
	if strings.TrimSpace(idOrSlug) == "" {
		return catalogDomain.Descriptor{}, fmt.Errorf("%w: content id is empty", sharedDomain.ErrValidation)
	}

	body, err := c.fetch(ctx, "/contents/"+url.PathEscape(idOrSlug))
	if err != nil {
		return catalogDomain.Descriptor{}, err
	}

	var envelope struct {
		Data *Document `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
		return catalogDomain.Descriptor{}, fmt.Errorf("%w: malformed content document for %s", sharedDomain.ErrValidation, idOrSlug)
	}
	return envelope.Data.Descriptor()
}

// List returns every descriptor the store publishes. Malformed entries are
// skipped and logged so one bad document does not hide the catalog.
func (c *Client) List(ctx context.Context) ([]catalogDomain.Descriptor, error) {
	body, err := c.fetch(ctx, "/contents")
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []Document `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed content listing", sharedDomain.ErrValidation)
	}

	descriptors := make([]catalogDomain.Descriptor, 0, len(envelope.Data))
	for _, doc := range envelope.Data {
		desc, err := doc.Descriptor()
		if err != nil {
			c.logger.WarnContext(ctx, "skipping invalid content document", "content_id", doc.ID, "error", err)
			continue
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	return c.guard.Do(ctx, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, catalogDomain.ErrContentNotFound
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("cms responded %d for %s", resp.StatusCode, path)
		}

		return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	})
}
