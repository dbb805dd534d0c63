package domain

import (
	"errors"
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
)

// ErrWebhookEventNotFound is returned for an unknown provider and event id.
var ErrWebhookEventNotFound = errors.New("webhook event not found")

// EventKind is the normalised meaning of a processor event.
type EventKind string

const (
	KindPaymentSucceeded EventKind = "payment_succeeded"
	KindPaymentFailed    EventKind = "payment_failed"
	KindRefundIssued     EventKind = "refund_issued"
	KindUnsupported      EventKind = "unsupported"
)

// PaymentEvent is a verified processor event.
type PaymentEvent struct {
	Provider         string
	ID               string
	Kind             EventKind
	RawType          string
	PaymentReference string
	// Amount is what the processor collected, when the event reports it.
	Amount        *sharedDomain.Money
	FailureReason string
	OccurredAt    time.Time
}

// Outcome is what handling a webhook event did.
type Outcome string

const (
	OutcomeApplied                Outcome = "applied"
	OutcomeNoop                   Outcome = "noop"
	OutcomeRejected               Outcome = "rejected"
	OutcomeFailedPriceMismatch    Outcome = "failed_price_mismatch"
	OutcomeFailedDuplicatePayment Outcome = "failed_duplicate_payment"
	OutcomeIgnored                Outcome = "ignored"
	OutcomeProcessing             Outcome = "processing"
)

// WebhookEvent is the stored record of a processed event.
type WebhookEvent struct {
	Provider         string
	EventID          string
	EventType        string
	PaymentReference string
	Outcome          Outcome
	Detail           string
	ReceivedAt       time.Time
	AppliedAt        *time.Time
}
