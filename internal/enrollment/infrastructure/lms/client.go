// Package lms queries the learning management system's enrollment API.
package lms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

const maxBodyBytes = 4 << 20

// Config configures the LMS client. Without client credentials requests are
// sent unauthenticated, which is only useful against a local LMS.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

// Client implements domain.Directory.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ domain.Directory = (*Client)(nil)

// NewClient creates an LMS client. base carries transport settings and is
// also used to fetch tokens; it may be nil.
func NewClient(cfg Config, base *http.Client, logger *slog.Logger) *Client {
	if base == nil {
		base = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := base
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = cc.Client(tokenCtx)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		logger:  logger,
	}
}

type batchRequest struct {
	Email     string   `json:"email"`
	CourseIDs []string `json:"courseIds"`
}

type enrollmentDocument struct {
	CourseID           string   `json:"courseId"`
	ProgressPercentage *float64 `json:"progressPercentage"`
	CompletedAt        string   `json:"completedAt"`
}

// Enrollments asks the LMS which of courseIDs the learner is enrolled in.
func (c *Client) Enrollments(ctx context.Context, email string, courseIDs []string) ([]domain.Enrollment, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(batchRequest{Email: email, CourseIDs: courseIDs})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/enrollments/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lms request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("lms response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("lms returned %d", resp.StatusCode)
	}

	var envelope struct {
		Data []enrollmentDocument `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed enrollment response: %v", sharedDomain.ErrValidation, err)
	}

	requested := make(map[string]struct{}, len(courseIDs))
	for _, id := range courseIDs {
		requested[id] = struct{}{}
	}

	enrollments := make([]domain.Enrollment, 0, len(envelope.Data))
	for _, doc := range envelope.Data {
		e, err := doc.enrollment()
		if err != nil {
			return nil, err
		}
		if _, ok := requested[e.CourseID]; !ok {
			c.logger.WarnContext(ctx, "lms returned an unrequested course", "course_id", e.CourseID)
			continue
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, nil
}

func (d enrollmentDocument) enrollment() (domain.Enrollment, error) {
	if strings.TrimSpace(d.CourseID) == "" {
		return domain.Enrollment{}, fmt.Errorf("%w: enrollment without course id", sharedDomain.ErrValidation)
	}

	e := domain.Enrollment{CourseID: d.CourseID}
	if d.ProgressPercentage != nil {
		p := *d.ProgressPercentage
		if p < 0 || p > 100 {
			return domain.Enrollment{}, fmt.Errorf("%w: progress %v for course %s", sharedDomain.ErrValidation, p, d.CourseID)
		}
		e.Progress = p
	}
	if d.CompletedAt != "" {
		at, err := time.Parse(time.RFC3339, d.CompletedAt)
		if err != nil {
			return domain.Enrollment{}, fmt.Errorf("%w: completedAt for course %s", sharedDomain.ErrValidation, d.CourseID)
		}
		e.CompletedAt = &at
		e.Progress = 100
	}
	return e, nil
}
