// Package stripe adapts Stripe payment intents and webhooks to the purchase
// ledger's ports.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// ProviderName identifies Stripe in stored webhook events.
const ProviderName = "stripe"

// Metadata keys written on every payment intent.
const (
	metadataReference = "payment_reference"
	metadataUserID    = "user_id"
	metadataContentID = "content_id"
)

// NewAPI builds a Stripe client. backends may be nil for the public API.
func NewAPI(secretKey string, backends *stripe.Backends) *client.API {
	return client.New(secretKey, backends)
}

// Processor creates payment intents.
type Processor struct {
	api    *client.API
	guard  *resilience.Guard[domain.Intent]
	logger *slog.Logger
}

var _ domain.PaymentProcessor = (*Processor)(nil)

// NewProcessor creates a processor bounded by timeout.
func NewProcessor(api *client.API, timeout time.Duration, logger *slog.Logger, metrics observability.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		api:    api,
		guard:  resilience.NewGuard[domain.Intent](resilience.DefaultConfig("stripe", timeout), logger, metrics),
		logger: logger,
	}
}

// CreateIntent creates or, for a repeated reference, returns the payment
// intent. The payment reference is the idempotency key.
func (p *Processor) CreateIntent(ctx context.Context, req domain.IntentRequest) (domain.Intent, error) {
	return p.guard.Do(ctx, func(ctx context.Context) (domain.Intent, error) {
		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.Amount.Amount),
			Currency: stripe.String(strings.ToLower(req.Amount.Currency)),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if req.Email != "" {
			params.ReceiptEmail = stripe.String(req.Email)
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(req.PaymentReference)
		params.AddMetadata(metadataReference, req.PaymentReference)
		params.AddMetadata(metadataUserID, req.UserID.String())
		params.AddMetadata(metadataContentID, req.ContentID)

		pi, err := p.api.PaymentIntents.New(params)
		if err != nil {
			return domain.Intent{}, mapStripeError(err)
		}
		return domain.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
	})
}

// mapStripeError keeps request errors (our bug, not an outage) out of the
// breaker and classifies the rest as unavailable.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse:
			return fmt.Errorf("%w: stripe: concurrent request for the same payment reference", sharedDomain.ErrUpstreamUnavailable)
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest && stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests && stripeErr.HTTPStatusCode != http.StatusUnauthorized:
			return fmt.Errorf("%w: stripe rejected the request: %s", sharedDomain.ErrValidation, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: %w", err)
}
