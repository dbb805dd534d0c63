package domain

import (
	"context"
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
)

// Ledger is the durable purchase store. Every transition is a single
// conditional update on the record's predecessor state.
type Ledger interface {
	// CreatePending stores a pending record. If the payment reference exists
	// the stored record is returned with created=false.
	CreatePending(ctx context.Context, purchase NewPurchase) (*Record, bool, error)

	// MarkCompleted moves pending to completed. A second completed record for
	// the same user and content fails with ErrAlreadyEntitled.
	MarkCompleted(ctx context.Context, reference string, at time.Time) (TransitionResult, error)

	// MarkFailed moves pending to failed.
	MarkFailed(ctx context.Context, reference, reason string, at time.Time) (TransitionResult, error)

	// MarkRefunded moves completed to refunded.
	MarkRefunded(ctx context.Context, reference string, at time.Time) (TransitionResult, error)

	// QueryStatus returns the dominant status for a user and content.
	QueryStatus(ctx context.Context, userID uuid.UUID, contentID string) (Status, bool, error)

	// Current returns the dominant record for a user and content.
	Current(ctx context.Context, userID uuid.UUID, contentID string) (*Record, error)

	FindByReference(ctx context.Context, reference string) (*Record, error)

	// ListStatuses returns the dominant status per content id. Content
	// without records is absent from the map.
	ListStatuses(ctx context.Context, userID uuid.UUID, contentIDs []string) (map[string]Status, error)

	// ListByUser returns every record for a user, newest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Record, error)
}

// IntentRequest asks the processor to start collecting a payment.
type IntentRequest struct {
	PaymentReference string
	Amount           sharedDomain.Money
	UserID           uuid.UUID
	ContentID        string
	Email            string
}

// Intent is the processor's handle for a payment in progress.
type Intent struct {
	ID           string
	ClientSecret string
}

// PaymentProcessor creates payment intents. The payment reference is the
// idempotency key, so repeating a request returns the same intent.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// EventVerifier authenticates and normalises one processor's webhooks.
type EventVerifier interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, signature string) (PaymentEvent, error)
}

// WebhookEventStore is the durable set of processed webhook events.
type WebhookEventStore interface {
	// Claim inserts the event in the processing state. If the provider and
	// event id are already present the stored event is returned with
	// claimed=false and nothing is written.
	Claim(ctx context.Context, event WebhookEvent) (*WebhookEvent, bool, error)

	// Complete records the outcome of a claimed event.
	Complete(ctx context.Context, provider, eventID string, outcome Outcome, detail string, at time.Time) error

	Find(ctx context.Context, provider, eventID string) (*WebhookEvent, error)
}
