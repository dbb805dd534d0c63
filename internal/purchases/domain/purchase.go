// Package domain holds the purchase ledger model: records, their allowed
// transitions and the ports the application layer drives.
package domain

import (
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a purchase record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Predecessor returns the only status a record may hold before moving to s.
func (s Status) Predecessor() (Status, bool) {
	switch s {
	case StatusCompleted, StatusFailed:
		return StatusPending, true
	case StatusRefunded:
		return StatusCompleted, true
	}
	return "", false
}

// Failure reasons recorded by the reconciler.
const (
	ReasonPriceMismatch    = "price_mismatch"
	ReasonDuplicatePayment = "duplicate_payment"
	ReasonPaymentFailed    = "payment_failed"
)

// referenceNamespace scopes payment references; changing it would break
// idempotency for intents created before the change.
var referenceNamespace = uuid.MustParse("6f1c0f0e-6a2d-4c1b-9d43-7d2b1c1e5a10")

// PaymentReference derives the deterministic reference for a purchase
// attempt. The same user, content and nonce always yield the same value.
func PaymentReference(userID uuid.UUID, contentID, nonce string) string {
	name := userID.String() + "\x00" + contentID + "\x00" + nonce
	return uuid.NewSHA1(referenceNamespace, []byte(name)).String()
}

// Record is one purchase attempt. Amount is fixed at creation.
type Record struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	ContentID        string
	Amount           sharedDomain.Money
	PaymentReference string
	Status           Status
	FailureReason    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	RefundedAt       *time.Time
}

// NewPurchase carries what the gateway snapshots when an attempt starts.
type NewPurchase struct {
	UserID           uuid.UUID
	ContentID        string
	Amount           sharedDomain.Money
	PaymentReference string
	CreatedAt        time.Time
}

// Validate checks the purchase before it reaches storage.
func (p NewPurchase) Validate() error {
	switch {
	case p.UserID == uuid.Nil:
		return fmt.Errorf("%w: purchase without user", sharedDomain.ErrValidation)
	case strings.TrimSpace(p.ContentID) == "":
		return fmt.Errorf("%w: purchase without content", sharedDomain.ErrValidation)
	case strings.TrimSpace(p.PaymentReference) == "":
		return fmt.Errorf("%w: purchase without payment reference", sharedDomain.ErrValidation)
	case p.Amount.IsZero() || p.Amount.Currency == "":
		return fmt.Errorf("%w: purchase without price", sharedDomain.ErrValidation)
	}
	return nil
}

// Pending builds the record a ledger stores for p.
func (p NewPurchase) Pending() Record {
	at := p.CreatedAt.UTC()
	if p.CreatedAt.IsZero() {
		at = time.Now().UTC()
	}
	return Record{
		ID:               uuid.New(),
		UserID:           p.UserID,
		ContentID:        p.ContentID,
		Amount:           p.Amount,
		PaymentReference: p.PaymentReference,
		Status:           StatusPending,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// TransitionResult reports what a ledger transition did.
type TransitionResult struct {
	Record   Record
	Applied  bool
	Previous Status
}

// Unapplied classifies a transition to target that matched no row in its
// predecessor state, given the record as it is now. Terminal records make
// the transition a no-op; records that have not reached the predecessor yet
// return ErrTransitionNotReady.
func Unapplied(target Status, current Record) (TransitionResult, error) {
	result := TransitionResult{Record: current, Previous: current.Status}

	switch target {
	case StatusCompleted, StatusFailed:
		if current.Status == StatusPending {
			return result, fmt.Errorf("%w: %s is still pending", ErrTransitionNotReady, current.PaymentReference)
		}
		return result, nil
	case StatusRefunded:
		switch current.Status {
		case StatusPending:
			return result, fmt.Errorf("%w: refund for %s before completion", ErrTransitionNotReady, current.PaymentReference)
		case StatusFailed:
			return result, fmt.Errorf("%w: refund for failed purchase %s", ErrInvalidTransition, current.PaymentReference)
		}
		return result, nil
	}
	return result, fmt.Errorf("%w: unknown target status %q", ErrInvalidTransition, target)
}

// Dominant picks the status that decides access when a user has several
// records for the same content: completed wins, otherwise the most recently
// updated record.
func Dominant(records []Record) (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range records {
		switch {
		case !found:
			best, found = r, true
		case best.Status == StatusCompleted:
		case r.Status == StatusCompleted:
			best = r
		case r.UpdatedAt.After(best.UpdatedAt):
			best = r
		}
	}
	return best, found
}
