package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accessApplication "github.com/felixgeelhaar/tollgate/internal/access/application"
	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	"github.com/felixgeelhaar/tollgate/internal/catalog/infrastructure/static"
	enrollmentApplication "github.com/felixgeelhaar/tollgate/internal/enrollment/application"
	enrollmentDomain "github.com/felixgeelhaar/tollgate/internal/enrollment/domain"
	identityApplication "github.com/felixgeelhaar/tollgate/internal/identity/application"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	identityPersistence "github.com/felixgeelhaar/tollgate/internal/identity/infrastructure/persistence"
	purchaseApplication "github.com/felixgeelhaar/tollgate/internal/purchases/application"
	purchaseDomain "github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	purchasePersistence "github.com/felixgeelhaar/tollgate/internal/purchases/infrastructure/persistence"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/outbox"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-with-enough-entropy"

type stubProcessor struct{ err error }

func (p *stubProcessor) CreateIntent(_ context.Context, req purchaseDomain.IntentRequest) (purchaseDomain.Intent, error) {
	if p.err != nil {
		return purchaseDomain.Intent{}, p.err
	}
	return purchaseDomain.Intent{ID: "pi_test", ClientSecret: "pi_test_secret_" + req.PaymentReference}, nil
}

type stubVerifier struct {
	events map[string]purchaseDomain.PaymentEvent
}

func (v *stubVerifier) Provider() string { return "stripe" }

func (v *stubVerifier) Verify(_ context.Context, payload []byte, signature string) (purchaseDomain.PaymentEvent, error) {
	if signature != "valid" {
		return purchaseDomain.PaymentEvent{}, sharedDomain.ErrSignatureInvalid
	}
	event, ok := v.events[string(payload)]
	if !ok {
		return purchaseDomain.PaymentEvent{}, errors.New("unknown payload")
	}
	return event, nil
}

type stubLMS struct {
	enrolled map[string]float64
	err      error
}

func (l *stubLMS) Enrollments(_ context.Context, _ string, courseIDs []string) ([]enrollmentDomain.Enrollment, error) {
	if l.err != nil {
		return nil, l.err
	}
	var out []enrollmentDomain.Enrollment
	for _, id := range courseIDs {
		if p, ok := l.enrolled[id]; ok {
			out = append(out, enrollmentDomain.Enrollment{CourseID: id, Progress: p})
		}
	}
	return out, nil
}

type testAPI struct {
	server    *Server
	tokens    *identityApplication.TokenResolver
	verifier  *stubVerifier
	processor *stubProcessor
	lms       *stubLMS
	ledger    *purchasePersistence.SQLiteLedger
	users     *identityPersistence.SQLiteUserRepository
	metrics   *observability.InMemoryMetrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.RunSQLiteMigrations(ctx, db))

	chf10 := sharedDomain.Money{Amount: 1000, Currency: "CHF"}
	catalog, err := static.NewSource(
		catalogDomain.Descriptor{ID: "o1", Slug: "welcome", Title: "Welcome", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierOpen},
		catalogDomain.Descriptor{ID: "a1", Slug: "pricing", Title: "Pricing", Kind: catalogDomain.KindArticle, Tier: catalogDomain.TierPaid, Price: chf10},
		catalogDomain.Descriptor{ID: "c1", Slug: "go", Title: "Go Course", Kind: catalogDomain.KindCourse, Tier: catalogDomain.TierPaid, Price: chf10},
	)
	require.NoError(t, err)

	metrics := observability.NewInMemoryMetrics()
	ledger := purchasePersistence.NewSQLiteLedger(db)
	userRepo := identityPersistence.NewSQLiteUserRepository(db)
	directory, err := identityApplication.NewDirectory(userRepo, 16, time.Minute, nil)
	require.NoError(t, err)

	lms := &stubLMS{enrolled: map[string]float64{}}
	aggregator, err := enrollmentApplication.NewAggregator(lms, enrollmentApplication.DefaultConfig(), nil, metrics)
	require.NoError(t, err)

	processor := &stubProcessor{}
	verifier := &stubVerifier{events: map[string]purchaseDomain.PaymentEvent{}}
	tokens := identityApplication.NewTokenResolver(testSecret, "tollgate")

	handler := NewHandler(HandlerConfig{
		Tokens:  tokens,
		Users:   directory,
		Access:  accessApplication.NewResolver(catalog, ledger, aggregator, time.Second, nil, metrics),
		Catalog: accessApplication.NewMerger(catalog, ledger, aggregator, time.Second, nil),
		Intents: purchaseApplication.NewGateway(catalog, ledger, processor, time.Second, nil, metrics),
		Webhooks: purchaseApplication.NewReconciler(ledger, purchasePersistence.NewSQLiteWebhookEventStore(db),
			sharedPersistence.NewSQLiteUnitOfWork(db), outbox.NewRecorder(outbox.NewInMemoryRepository()),
			time.Second, nil, metrics, verifier),
		Enrollments: aggregator,
		Purchases:   ledger,
		Metrics:     metrics,
	})

	return &testAPI{
		server:    NewServer(DefaultServerConfig(), handler, nil, nil, nil),
		tokens:    tokens,
		verifier:  verifier,
		processor: processor,
		lms:       lms,
		ledger:    ledger,
		users:     userRepo,
		metrics:   metrics,
	}
}

func (a *testAPI) login(t *testing.T) (identityDomain.Identity, string) {
	t.Helper()
	identity, err := identityDomain.NewIdentity(uuid.New(), "reader@example.com")
	require.NoError(t, err)
	token, err := a.tokens.Issue(identity, time.Hour)
	require.NoError(t, err)
	return identity, token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) webhook(t *testing.T, payload, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewBufferString(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAPI_Health(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestAPI_CheckAccess(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.login(t)

	rec := api.do(t, http.MethodGet, "/content/welcome/access", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[verdictResponse](t, rec)
	assert.True(t, v.Granted)
	assert.Equal(t, "open", v.Reason)
	assert.Nil(t, v.UserID)

	rec = api.do(t, http.MethodGet, "/content/a1/access", "", nil)
	v = decode[verdictResponse](t, rec)
	assert.False(t, v.Granted)
	assert.Equal(t, "login_required", v.Reason)
	assert.Equal(t, "login", v.NextAction)

	rec = api.do(t, http.MethodGet, "/content/a1/access", token, nil)
	v = decode[verdictResponse](t, rec)
	assert.Equal(t, "not_entitled", v.Reason)
	assert.Equal(t, "purchase", v.NextAction)

	rec = api.do(t, http.MethodGet, "/content/missing/access", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[APIError](t, rec).Code)

	rec = api.do(t, http.MethodGet, "/content/a1/access", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CheckAccess_CourseDegradedAndRefresh(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.login(t)

	api.lms.err = errors.New("lms down")
	rec := api.do(t, http.MethodGet, "/content/c1/access", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[verdictResponse](t, rec)
	assert.False(t, v.Granted)
	assert.True(t, v.Degraded)
	assert.Equal(t, "retry", v.NextAction)

	api.lms.err = nil
	rec = api.do(t, http.MethodGet, "/content/c1/access", token, nil)
	assert.Equal(t, "enroll", decode[verdictResponse](t, rec).NextAction)

	// Enrolling upstream is visible once the client asks for a refresh.
	api.lms.enrolled["c1"] = 0
	rec = api.do(t, http.MethodGet, "/content/c1/access?refresh=true", token, nil)
	v = decode[verdictResponse](t, rec)
	assert.True(t, v.Granted)
	assert.Equal(t, "enrolled", v.Reason)
}

func TestAPI_PurchaseFlow(t *testing.T) {
	api := newTestAPI(t)
	identity, token := api.login(t)

	rec := api.do(t, http.MethodPost, "/payment-intents", "", createIntentRequest{ContentID: "a1", Nonce: "n1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodPost, "/payment-intents", token, createIntentRequest{ContentID: "a1", Nonce: "n1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	intent := decode[intentResponse](t, rec)
	assert.Equal(t, "10.00", intent.Amount)
	assert.Equal(t, "CHF", intent.Currency)
	assert.Equal(t, "pending", intent.Status)
	assert.NotEmpty(t, intent.ClientHandle)

	// The user was remembered by the identity middleware.
	user, err := api.users.FindByID(context.Background(), identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", user.Email.String())

	rec = api.do(t, http.MethodGet, "/content/a1/access", token, nil)
	assert.Equal(t, "payment_pending", decode[verdictResponse](t, rec).Reason)

	api.verifier.events["evt_1"] = purchaseDomain.PaymentEvent{
		Provider: "stripe", ID: "evt_1", Kind: purchaseDomain.KindPaymentSucceeded,
		RawType: "payment_intent.succeeded", PaymentReference: intent.PaymentReference,
		OccurredAt: time.Now(),
	}

	rec = api.webhook(t, "evt_1", "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "signature_invalid", decode[APIError](t, rec).Code)

	rec = api.webhook(t, "evt_1", "valid")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "applied", decode[webhookResponse](t, rec).Outcome)

	rec = api.webhook(t, "evt_1", "valid")
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[webhookResponse](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, "applied", replay.Outcome)

	rec = api.do(t, http.MethodGet, "/content/a1/access", token, nil)
	v := decode[verdictResponse](t, rec)
	assert.True(t, v.Granted)
	assert.Equal(t, "purchased", v.Reason)

	rec = api.do(t, http.MethodPost, "/payment-intents", token, createIntentRequest{ContentID: "a1", Nonce: "n2"})
	require.Equal(t, http.StatusOK, rec.Code)
	owned := decode[intentResponse](t, rec)
	assert.Equal(t, "completed", owned.Status)
	assert.Empty(t, owned.ClientHandle)
	assert.Equal(t, intent.PaymentReference, owned.PaymentReference)

	rec = api.do(t, http.MethodGet, "/users/"+identity.UserID.String()+"/purchases", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string][]purchaseResponse](t, rec)
	require.Len(t, history["purchases"], 1)
	assert.Equal(t, "completed", history["purchases"][0].Status)
	assert.NotNil(t, history["purchases"][0].CompletedAt)
}

func TestAPI_PaymentIntentErrors(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.login(t)

	rec := api.do(t, http.MethodPost, "/payment-intents", token, createIntentRequest{ContentID: "o1", Nonce: "n1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/payment-intents", token, map[string]string{"contentId": "a1", "nonce": "n1", "price": "0.01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.processor.err = errors.New("stripe unreachable")
	rec = api.do(t, http.MethodPost, "/payment-intents", token, createIntentRequest{ContentID: "a1", Nonce: "n1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "stripe unreachable")
}

func TestAPI_WebhookRefundBeforeCompletionAsksForRedelivery(t *testing.T) {
	api := newTestAPI(t)
	_, token := api.login(t)

	rec := api.do(t, http.MethodPost, "/payment-intents", token, createIntentRequest{ContentID: "a1", Nonce: "n1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	intent := decode[intentResponse](t, rec)

	api.verifier.events["evt_refund"] = purchaseDomain.PaymentEvent{
		Provider: "stripe", ID: "evt_refund", Kind: purchaseDomain.KindRefundIssued,
		PaymentReference: intent.PaymentReference, OccurredAt: time.Now(),
	}
	rec = api.webhook(t, "evt_refund", "valid")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_BatchCheckAccess(t *testing.T) {
	api := newTestAPI(t)
	identity, token := api.login(t)
	api.lms.enrolled["c1"] = 55

	rec := api.do(t, http.MethodPost, "/batch-check-access", token, batchCheckRequest{
		UserID: identity.UserID.String(), CourseIDs: []string{"c1", "c2"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[batchCheckResponse](t, rec)
	assert.Equal(t, map[string]bool{"c1": true, "c2": false}, res.AccessMap)
	assert.Equal(t, 55.0, res.Progress["c1"])
	assert.False(t, res.Degraded)

	rec = api.do(t, http.MethodPost, "/batch-check-access", token, batchCheckRequest{
		UserID: uuid.NewString(), CourseIDs: []string{"c1"},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, http.MethodPost, "/batch-check-access", "", batchCheckRequest{
		UserID: identity.UserID.String(), CourseIDs: []string{"c1"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_ListUserContent(t *testing.T) {
	api := newTestAPI(t)
	identity, token := api.login(t)
	api.lms.enrolled["c1"] = 30

	path := "/users/" + identity.UserID.String() + "/content?status=granted&sort=title"
	rec := api.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[contentPage](t, rec)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c1", page.Items[0].ID)
	require.NotNil(t, page.Items[0].Progress)
	assert.Equal(t, 30.0, *page.Items[0].Progress)
	assert.Equal(t, "o1", page.Items[1].ID)
	assert.Equal(t, 2, page.Total)

	rec = api.do(t, http.MethodGet, "/users/"+identity.UserID.String()+"/content?limit=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/users/"+identity.UserID.String()+"/content?sort=price", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodGet, "/users/"+uuid.NewString()+"/content", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Positive(t, api.metrics.GetCounter(observability.MetricHTTPRequests,
		observability.T("route", "GET /users/{id}/content"), observability.T("status", "200")))
}
