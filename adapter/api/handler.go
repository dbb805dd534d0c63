package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	accessApplication "github.com/felixgeelhaar/tollgate/internal/access/application"
	accessDomain "github.com/felixgeelhaar/tollgate/internal/access/domain"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	enrollmentDomain "github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	purchaseApplication "github.com/felixgeelhaar/tollgate/internal/purchases/application"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
)

const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20
	maxBatchSize   = 200

	webhookProvider = "stripe"
)

// TokenResolver resolves Authorization headers.
type TokenResolver interface {
	Resolve(header string) (identityDomain.Identity, error)
}

// UserRecorder remembers callers that presented a valid token.
type UserRecorder interface {
	Remember(ctx context.Context, identity identityDomain.Identity)
}

// AccessResolver resolves one item for one caller.
type AccessResolver interface {
	ResolveContent(ctx context.Context, identity identityDomain.Identity, idOrSlug string) (accessDomain.Verdict, catalogDomain.Descriptor, error)
}

// CatalogMerger lists a user's unified catalog.
type CatalogMerger interface {
	GetUserUnifiedContent(ctx context.Context, identity identityDomain.Identity, q accessApplication.Query) (accessApplication.Page, error)
}

// IntentCreator starts purchases.
type IntentCreator interface {
	CreateIntent(ctx context.Context, cmd purchaseApplication.CreateIntentCommand) (purchaseApplication.IntentResult, error)
}

// WebhookProcessor applies processor webhooks.
type WebhookProcessor interface {
	Handle(ctx context.Context, provider string, payload []byte, signature string) (purchaseApplication.WebhookResult, error)
}

// Enrollments answers batch course checks.
type Enrollments interface {
	BatchCheckAccess(ctx context.Context, identity identityDomain.Identity, courseIDs []string) enrollmentDomain.BatchResult
	Invalidate(identity identityDomain.Identity)
}

// PurchaseHistory lists a user's purchases.
type PurchaseHistory interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]purchaseDomain.Record, error)
}

// HandlerConfig holds the handler's collaborators. Users and Metrics are
// optional.
type HandlerConfig struct {
	Tokens      TokenResolver
	Users       UserRecorder
	Access      AccessResolver
	Catalog     CatalogMerger
	Intents     IntentCreator
	Webhooks    WebhookProcessor
	Enrollments Enrollments
	Purchases   PurchaseHistory
	Logger      *slog.Logger
	Metrics     observability.Metrics
}

// Handler serves the tollgate API.
type Handler struct {
	tokens      TokenResolver
	users       UserRecorder
	access      AccessResolver
	catalog     CatalogMerger
	intents     IntentCreator
	webhooks    WebhookProcessor
	enrollments Enrollments
	purchases   PurchaseHistory
	logger      *slog.Logger
	metrics     observability.Metrics
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		tokens:      cfg.Tokens,
		users:       cfg.Users,
		access:      cfg.Access,
		catalog:     cfg.Catalog,
		intents:     cfg.Intents,
		webhooks:    cfg.Webhooks,
		enrollments: cfg.Enrollments,
		purchases:   cfg.Purchases,
		logger:      cfg.Logger,
		metrics:     observability.OrNoop(cfg.Metrics),
	}
}

type verdictResponse struct {
	ContentID  string  `json:"contentId"`
	Kind       string  `json:"type"`
	Tier       string  `json:"accessTier"`
	UserID     *string `json:"userId,omitempty"`
	Granted    bool    `json:"granted"`
	Reason     string  `json:"reason"`
	NextAction string  `json:"nextAction"`
	Degraded   bool    `json:"degraded"`
}

// CheckAccess handles GET /content/{id}/access. With refresh=true cached
// enrollments are dropped first, for use right after an enrollment.
func (h *Handler) CheckAccess(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if parseBoolParam(r, "refresh", false) && !identity.IsAnonymous() {
		h.enrollments.Invalidate(identity)
	}

	verdict, desc, err := h.access.ResolveContent(r.Context(), identity, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := verdictResponse{
		ContentID:  verdict.ContentID,
		Kind:       string(desc.Kind),
		Tier:       string(desc.Tier),
		Granted:    verdict.Granted,
		Reason:     string(verdict.Reason),
		NextAction: string(verdict.NextAction),
		Degraded:   verdict.Degraded,
	}
	if !identity.IsAnonymous() {
		id := identity.UserID.String()
		resp.UserID = &id
	}
	writeJSON(w, http.StatusOK, resp)
}

type createIntentRequest struct {
	ContentID string `json:"contentId"`
	Nonce     string `json:"nonce"`
}

type intentResponse struct {
	ClientHandle     string `json:"clientHandle,omitempty"`
	PaymentReference string `json:"paymentReference"`
	Amount           string `json:"amount"`
	AmountMinor      int64  `json:"amountMinor"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
}

// CreatePaymentIntent handles POST /payment-intents. A purchase already
// completed answers 200 without a client handle; a new or resumed attempt
// answers 201.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())
	if identity.IsAnonymous() {
		writeError(w, r, h.logger, errUnauthenticated)
		return
	}

	var req createIntentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.intents.CreateIntent(r.Context(), purchaseApplication.CreateIntentCommand{
		ContentID: req.ContentID,
		Identity:  identity,
		Nonce:     req.Nonce,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Status == purchaseDomain.StatusCompleted {
		status = http.StatusOK
	}
	writeJSON(w, status, intentResponse{
		ClientHandle:     result.ClientHandle,
		PaymentReference: result.PaymentReference,
		Amount:           result.Amount.Decimal(),
		AmountMinor:      result.Amount.Amount,
		Currency:         result.Amount.Currency,
		Status:           string(result.Status),
	})
}

type webhookResponse struct {
	EventID  string `json:"eventId"`
	Outcome  string `json:"outcome"`
	Replayed bool   `json:"replayed"`
}

// ReceiveWebhook handles POST /webhooks/payments. 200 is only returned once
// the outcome is durable; 503 asks the processor to redeliver.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, h.logger, fmt.Errorf("%w: webhook body: %v", sharedDomain.ErrValidation, err))
		return
	}

	result, err := h.webhooks.Handle(r.Context(), webhookProvider, payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		EventID:  result.EventID,
		Outcome:  string(result.Outcome),
		Replayed: result.Replayed,
	})
}

type batchCheckRequest struct {
	UserID    string   `json:"userId"`
	CourseIDs []string `json:"courseIds"`
}

type batchCheckResponse struct {
	AccessMap map[string]bool    `json:"accessMap"`
	Progress  map[string]float64 `json:"progress"`
	Degraded  bool               `json:"degraded"`
}

// BatchCheckAccess handles POST /batch-check-access for the caller's own
// enrollments.
func (h *Handler) BatchCheckAccess(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	identity, err := h.requireSelf(r, req.UserID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if len(req.CourseIDs) > maxBatchSize {
		writeError(w, r, h.logger, fmt.Errorf("%w: at most %d course ids per request", sharedDomain.ErrValidation, maxBatchSize))
		return
	}

	res := h.enrollments.BatchCheckAccess(r.Context(), identity, req.CourseIDs)
	writeJSON(w, http.StatusOK, batchCheckResponse{
		AccessMap: res.Access,
		Progress:  res.Progress,
		Degraded:  res.Degraded,
	})
}

type contentItem struct {
	Type        string   `json:"type"`
	ID          string   `json:"id"`
	Slug        string   `json:"slug"`
	Title       string   `json:"title"`
	AccessTier  string   `json:"accessTier"`
	Price       *price   `json:"price,omitempty"`
	Granted     bool     `json:"granted"`
	Reason      string   `json:"reason"`
	NextAction  string   `json:"nextAction"`
	Progress    *float64 `json:"progress,omitempty"`
	PublishedAt string   `json:"publishedAt,omitempty"`
}

type price struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type contentPage struct {
	Items    []contentItem `json:"items"`
	Total    int           `json:"total"`
	Offset   int           `json:"offset"`
	Limit    int           `json:"limit"`
	Degraded bool          `json:"degraded"`
}

// ListUserContent handles GET /users/{id}/content.
func (h *Handler) ListUserContent(w http.ResponseWriter, r *http.Request) {
	identity, err := h.requireSelf(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	query := accessApplication.Query{
		Type:   catalogDomain.Kind(q.Get("type")),
		Status: accessApplication.StatusFilter(q.Get("status")),
		SortBy: accessApplication.SortKey(q.Get("sort")),
		Desc:   parseBoolParam(r, "desc", false),
	}
	if query.Offset, err = parseIntParam(r, "offset"); err == nil {
		query.Limit, err = parseIntParam(r, "limit")
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	page, err := h.catalog.GetUserUnifiedContent(r.Context(), identity, query)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp := contentPage{
		Items:    make([]contentItem, 0, len(page.Items)),
		Total:    page.Total,
		Offset:   page.Offset,
		Limit:    page.Limit,
		Degraded: page.Degraded,
	}
	for _, it := range page.Items {
		item := contentItem{
			Type:       string(it.Type),
			ID:         it.ID,
			Slug:       it.Slug,
			Title:      it.Title,
			AccessTier: string(it.Tier),
			Granted:    it.Granted,
			Reason:     string(it.Reason),
			NextAction: string(it.NextAction),
			Progress:   it.Progress,
		}
		if !it.Price.IsZero() {
			item.Price = &price{Amount: it.Price.Decimal(), Currency: it.Price.Currency}
		}
		if !it.PublishedAt.IsZero() {
			item.PublishedAt = it.PublishedAt.UTC().Format(time.RFC3339)
		}
		resp.Items = append(resp.Items, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

type purchaseResponse struct {
	ID               string  `json:"id"`
	ContentID        string  `json:"contentId"`
	PaymentReference string  `json:"paymentReference"`
	Amount           string  `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	FailureReason    string  `json:"failureReason,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	CompletedAt      *string `json:"completedAt,omitempty"`
	RefundedAt       *string `json:"refundedAt,omitempty"`
}

// ListPurchases handles GET /users/{id}/purchases.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	identity, err := h.requireSelf(r, r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	records, err := h.purchases.ListByUser(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, h.logger, sharedDomain.Unavailable("ledger", err))
		return
	}

	resp := make([]purchaseResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, purchaseResponse{
			ID:               rec.ID.String(),
			ContentID:        rec.ContentID,
			PaymentReference: rec.PaymentReference,
			Amount:           rec.Amount.Decimal(),
			Currency:         rec.Amount.Currency,
			Status:           string(rec.Status),
			FailureReason:    rec.FailureReason,
			CreatedAt:        rec.CreatedAt.UTC().Format(time.RFC3339),
			CompletedAt:      formatTime(rec.CompletedAt),
			RefundedAt:       formatTime(rec.RefundedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"purchases": resp})
}

// requireSelf checks that the caller is signed in and is the user named by
// the request.
func (h *Handler) requireSelf(r *http.Request, userID string) (identityDomain.Identity, error) {
	identity := identityFrom(r.Context())
	if identity.IsAnonymous() {
		return identityDomain.Identity{}, errUnauthenticated
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return identityDomain.Identity{}, fmt.Errorf("%w: user id %q", sharedDomain.ErrValidation, userID)
	}
	if id != identity.UserID {
		return identityDomain.Identity{}, errForbidden
	}
	return identity, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", sharedDomain.ErrValidation)
		}
		return fmt.Errorf("%w: malformed request body: %v", sharedDomain.ErrValidation, err)
	}
	return nil
}

func parseIntParam(r *http.Request, key string) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", sharedDomain.ErrValidation, key)
	}
	return n, nil
}

func parseBoolParam(r *http.Request, key string, defaultVal bool) bool {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultVal
	}
	return b
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
