package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
)

// RoutingKeys lists every purchase routing key.
var RoutingKeys = []string{
	domain.RoutingKeyCompleted,
	domain.RoutingKeyFailed,
	domain.RoutingKeyRefunded,
	domain.RoutingKeyIncident,
}

// AuditLog writes published purchase events to the log. Incidents are logged
// at error level so they reach an operator.
type AuditLog struct {
	logger *slog.Logger
}

// NewAuditLog creates an audit log.
func NewAuditLog(logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLog{logger: logger}
}

// Handle consumes one outbox message.
func (a *AuditLog) Handle(ctx context.Context, routingKey string, payload []byte) error {
	var event domain.PurchaseEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// Retrying cannot fix a malformed payload.
		a.logger.ErrorContext(ctx, "undecodable purchase event", "routing_key", routingKey, "error", err)
		return nil
	}

	attrs := []any{
		"routing_key", routingKey,
		"purchase_id", event.PurchaseID.String(),
		"user_id", event.UserID.String(),
		"content_id", event.ContentID,
		"payment_reference", event.PaymentReference,
		"status", string(event.Status),
		"amount", fmt.Sprintf("%d %s", event.AmountMinor, event.Currency),
	}
	if event.ProcessorEventID != "" {
		attrs = append(attrs, "processor_event_id", event.ProcessorEventID)
	}

	if routingKey == domain.RoutingKeyIncident {
		attrs = append(attrs, "incident", event.Incident, "detail", event.Detail)
		a.logger.ErrorContext(ctx, "purchase incident", attrs...)
		return nil
	}
	a.logger.InfoContext(ctx, "purchase event", attrs...)
	return nil
}
