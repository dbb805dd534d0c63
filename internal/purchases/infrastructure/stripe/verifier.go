package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Verifier checks Stripe-Signature headers and normalises events.
type Verifier struct {
	secret string
	api    *client.API
	guard  *resilience.Guard[*stripe.PaymentIntent]
	logger *slog.Logger
}

var _ domain.EventVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier. api is used to resolve the payment
// reference of refunded charges.
func NewVerifier(secret string, api *client.API, timeout time.Duration, logger *slog.Logger, metrics observability.Metrics) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		secret: secret,
		api:    api,
		guard:  resilience.NewGuard[*stripe.PaymentIntent](resilience.DefaultConfig("stripe-lookup", timeout), logger, metrics),
		logger: logger,
	}
}

// Provider returns "stripe".
func (v *Verifier) Provider() string {
	return ProviderName
}

// Verify authenticates payload and maps it to a PaymentEvent.
func (v *Verifier) Verify(ctx context.Context, payload []byte, signature string) (domain.PaymentEvent, error) {
	if v.secret == "" {
		return domain.PaymentEvent{}, fmt.Errorf("%w: webhook secret is not configured", sharedDomain.ErrSignatureInvalid)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("%w: %v", sharedDomain.ErrSignatureInvalid, err)
	}

	out := domain.PaymentEvent{
		Provider:   ProviderName,
		ID:         event.ID,
		Kind:       domain.KindUnsupported,
		RawType:    string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return out, nil
	}

	switch out.RawType {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: payment intent payload: %v", sharedDomain.ErrValidation, err)
		}
		out.PaymentReference = pi.Metadata[metadataReference]

		if out.RawType == "payment_intent.succeeded" {
			out.Kind = domain.KindPaymentSucceeded
			amount := pi.AmountReceived
			if amount == 0 {
				amount = pi.Amount
			}
			out.Amount = &sharedDomain.Money{Amount: amount, Currency: strings.ToUpper(string(pi.Currency))}
		} else {
			out.Kind = domain.KindPaymentFailed
			out.FailureReason = domain.ReasonPaymentFailed
			if pi.LastPaymentError != nil && pi.LastPaymentError.Code != "" {
				out.FailureReason = string(pi.LastPaymentError.Code)
			}
		}

	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("%w: charge payload: %v", sharedDomain.ErrValidation, err)
		}
		if !ch.Refunded {
			// Partial refunds keep the purchase.
			v.logger.InfoContext(ctx, "ignoring partial refund", "event_id", event.ID, "charge_id", ch.ID)
			return out, nil
		}
		out.Kind = domain.KindRefundIssued
		out.PaymentReference = ch.Metadata[metadataReference]
		if out.PaymentReference == "" && ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
			ref, err := v.lookupReference(ctx, ch.PaymentIntent.ID)
			if err != nil {
				return domain.PaymentEvent{}, err
			}
			out.PaymentReference = ref
		}
	}

	return out, nil
}

func (v *Verifier) lookupReference(ctx context.Context, paymentIntentID string) (string, error) {
	if v.api == nil {
		return "", fmt.Errorf("%w: no stripe client to resolve %s", sharedDomain.ErrUpstreamUnavailable, paymentIntentID)
	}
	pi, err := v.guard.Do(ctx, func(ctx context.Context) (*stripe.PaymentIntent, error) {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		return v.api.PaymentIntents.Get(paymentIntentID, params)
	})
	if err != nil {
		return "", err
	}
	return pi.Metadata[metadataReference], nil
}
