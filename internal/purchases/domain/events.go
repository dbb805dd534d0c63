package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
)

const aggregateType = "Purchase"

// Routing keys for purchase events.
const (
	RoutingKeyCompleted = "purchase.completed"
	RoutingKeyFailed    = "purchase.failed"
	RoutingKeyRefunded  = "purchase.refunded"
	RoutingKeyIncident  = "purchase.incident"
)

// Incident kinds carried by purchase.incident events.
const (
	IncidentPriceMismatch    = "price_mismatch"
	IncidentDuplicatePayment = "duplicate_payment"
	IncidentPaidAfterFailure = "paid_after_failure"
)

// PurchaseEvent is published through the outbox whenever the ledger changes
// or the reconciler needs an operator.
type PurchaseEvent struct {
	sharedDomain.BaseEvent
	PurchaseID       uuid.UUID `json:"purchase_id"`
	UserID           uuid.UUID `json:"user_id"`
	ContentID        string    `json:"content_id"`
	PaymentReference string    `json:"payment_reference"`
	AmountMinor      int64     `json:"amount_minor"`
	Currency         string    `json:"currency"`
	Status           Status    `json:"status"`
	Incident         string    `json:"incident,omitempty"`
	Detail           string    `json:"detail,omitempty"`
	ProcessorEventID string    `json:"processor_event_id,omitempty"`
}

// NewPurchaseEvent creates an event for record under routingKey.
func NewPurchaseEvent(routingKey string, record Record, processorEventID string, at time.Time) *PurchaseEvent {
	return &PurchaseEvent{
		BaseEvent:        sharedDomain.NewBaseEventAt(record.ID, aggregateType, routingKey, at),
		PurchaseID:       record.ID,
		UserID:           record.UserID,
		ContentID:        record.ContentID,
		PaymentReference: record.PaymentReference,
		AmountMinor:      record.Amount.Amount,
		Currency:         record.Amount.Currency,
		Status:           record.Status,
		ProcessorEventID: processorEventID,
	}
}

// NewIncidentEvent creates a purchase.incident event.
func NewIncidentEvent(record Record, incident, detail, processorEventID string, at time.Time) *PurchaseEvent {
	e := NewPurchaseEvent(RoutingKeyIncident, record, processorEventID, at)
	e.Incident = incident
	e.Detail = detail
	return e
}
