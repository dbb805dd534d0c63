package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedApplication "github.com/felixgeelhaar/tollgate/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
	"github.com/google/uuid"
)

// EventRecorder stores domain events with the caller's transaction.
type EventRecorder interface {
	Record(ctx context.Context, events ...sharedDomain.DomainEvent) error
}

// WebhookResult reports how a webhook delivery was handled.
type WebhookResult struct {
	Provider         string
	EventID          string
	EventType        string
	PaymentReference string
	Outcome          domain.Outcome
	Detail           string
	// Replayed is true when the event had been handled before and the stored
	// outcome was returned without side effects.
	Replayed bool
}

// Reconciler applies verified processor webhooks to the ledger exactly once.
type Reconciler struct {
	verifiers map[string]domain.EventVerifier
	ledger    domain.Ledger
	events    domain.WebhookEventStore
	uow       sharedApplication.UnitOfWork
	recorder  EventRecorder
	timeout   time.Duration
	logger    *slog.Logger
	metrics   observability.Metrics
	now       func() time.Time
}

// NewReconciler creates a reconciler. timeout bounds each delivery's
// transaction.
func NewReconciler(
	ledger domain.Ledger,
	events domain.WebhookEventStore,
	uow sharedApplication.UnitOfWork,
	recorder EventRecorder,
	timeout time.Duration,
	logger *slog.Logger,
	metrics observability.Metrics,
	verifiers ...domain.EventVerifier,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	byProvider := make(map[string]domain.EventVerifier, len(verifiers))
	for _, v := range verifiers {
		byProvider[v.Provider()] = v
	}
	return &Reconciler{
		verifiers: byProvider,
		ledger:    ledger,
		events:    events,
		uow:       uow,
		recorder:  recorder,
		timeout:   timeout,
		logger:    logger,
		metrics:   observability.OrNoop(metrics),
		now:       time.Now,
	}
}

// Handle verifies, deduplicates and applies one delivery. A nil error means
// the outcome is durable and the delivery can be acknowledged; any
// ErrUpstreamUnavailable asks the processor to redeliver.
func (r *Reconciler) Handle(ctx context.Context, provider string, payload []byte, signature string) (WebhookResult, error) {
	result, err := r.handle(ctx, provider, payload, signature)

	outcome := string(result.Outcome)
	switch {
	case errors.Is(err, sharedDomain.ErrSignatureInvalid):
		outcome = "signature_invalid"
		r.logger.WarnContext(ctx, "webhook signature rejected", "provider", provider, "error", err)
	case sharedDomain.IsValidation(err):
		outcome = "rejected"
		r.logger.WarnContext(ctx, "webhook rejected", "provider", provider, "error", err)
	case err != nil:
		outcome = "retry"
		r.logger.ErrorContext(ctx, "webhook not applied, requesting redelivery",
			"provider", provider, "event_id", result.EventID, "error", err)
	case result.Replayed:
		outcome = "replayed"
	}
	r.metrics.Counter(observability.MetricWebhookEvents, 1,
		observability.T("provider", provider), observability.T("outcome", outcome))

	return result, err
}

func (r *Reconciler) handle(ctx context.Context, provider string, payload []byte, signature string) (WebhookResult, error) {
	verifier, ok := r.verifiers[provider]
	if !ok {
		return WebhookResult{}, fmt.Errorf("%w: unknown payment provider %q", sharedDomain.ErrValidation, provider)
	}

	event, err := verifier.Verify(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, sharedDomain.ErrSignatureInvalid) || sharedDomain.IsValidation(err) {
			return WebhookResult{Provider: provider}, err
		}
		return WebhookResult{Provider: provider}, sharedDomain.Unavailable("verifier", err)
	}

	result := WebhookResult{
		Provider:         event.Provider,
		EventID:          event.ID,
		EventType:        event.RawType,
		PaymentReference: event.PaymentReference,
	}

	if event.Kind == domain.KindUnsupported {
		result.Outcome = domain.OutcomeIgnored
		r.logger.DebugContext(ctx, "ignoring webhook event", "event_id", event.ID, "type", event.RawType)
		return result, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	applied, err := sharedApplication.WithUnitOfWorkResult(ctx, r.uow, func(txCtx context.Context) (delivery, error) {
		return r.applyOnce(txCtx, event, result)
	})
	if err != nil {
		return result, sharedDomain.Unavailable("reconciler", err)
	}
	r.countCommitted(applied.events)
	return applied.result, nil
}

// delivery is what one committed unit of work produced.
type delivery struct {
	result WebhookResult
	events []sharedDomain.DomainEvent
}

// countCommitted records ledger and incident metrics once the events are
// durable, so a rolled back delivery counts nothing.
func (r *Reconciler) countCommitted(events []sharedDomain.DomainEvent) {
	for _, e := range events {
		pe, ok := e.(*domain.PurchaseEvent)
		if !ok {
			continue
		}
		if pe.RoutingKey() == domain.RoutingKeyIncident {
			r.metrics.Counter(observability.MetricPurchaseIncidents, 1, observability.T("incident", pe.Incident))
			continue
		}
		r.metrics.Counter(observability.MetricLedgerTransitions, 1, observability.T("to", string(pe.Status)))
	}
}

// stampMetadata ties every event of a delivery to the purchase owner and the
// request's correlation id.
func stampMetadata(ctx context.Context, events []sharedDomain.DomainEvent) {
	if len(events) == 0 {
		return
	}
	var userID uuid.UUID
	if pe, ok := events[0].(*domain.PurchaseEvent); ok {
		userID = pe.UserID
	}
	metadata := sharedApplication.NewEventMetadata(userID, observability.CorrelationIDFromContext(ctx))
	sharedApplication.ApplyEventMetadata(events, metadata)
}

// applyOnce runs inside the unit of work: claim the event id, apply the
// transition, record events and the outcome. Any error rolls all of it back.
func (r *Reconciler) applyOnce(ctx context.Context, event domain.PaymentEvent, result WebhookResult) (delivery, error) {
	receivedAt := r.now().UTC()

	existing, claimed, err := r.events.Claim(ctx, domain.WebhookEvent{
		Provider:         event.Provider,
		EventID:          event.ID,
		EventType:        event.RawType,
		PaymentReference: event.PaymentReference,
		ReceivedAt:       receivedAt,
	})
	if err != nil {
		return delivery{result: result}, err
	}
	if !claimed {
		if existing.Outcome == domain.OutcomeProcessing {
			return delivery{result: result}, fmt.Errorf("%w: event %s is still being processed", sharedDomain.ErrUpstreamUnavailable, event.ID)
		}
		result.Outcome = existing.Outcome
		result.Detail = existing.Detail
		result.Replayed = true
		r.logger.InfoContext(ctx, "duplicate webhook delivery",
			"event_id", event.ID, "outcome", existing.Outcome)
		return delivery{result: result}, nil
	}

	outcome, detail, events, err := r.apply(ctx, event)
	if err != nil {
		return delivery{result: result}, err
	}

	stampMetadata(ctx, events)
	if err := r.recorder.Record(ctx, events...); err != nil {
		return delivery{result: result}, err
	}
	if err := r.events.Complete(ctx, event.Provider, event.ID, outcome, detail, r.now().UTC()); err != nil {
		return delivery{result: result}, err
	}

	result.Outcome = outcome
	result.Detail = detail
	r.logger.InfoContext(ctx, "webhook applied",
		"event_id", event.ID,
		"type", event.RawType,
		"payment_reference", event.PaymentReference,
		"outcome", outcome,
	)
	return delivery{result: result, events: events}, nil
}

func (r *Reconciler) apply(ctx context.Context, event domain.PaymentEvent) (domain.Outcome, string, []sharedDomain.DomainEvent, error) {
	if event.PaymentReference == "" {
		r.logger.WarnContext(ctx, "webhook event without payment reference", "event_id", event.ID, "type", event.RawType)
		return domain.OutcomeRejected, "missing payment reference", nil, nil
	}

	rec, err := r.ledger.FindByReference(ctx, event.PaymentReference)
	if err != nil {
		if errors.Is(err, domain.ErrPurchaseNotFound) {
			r.logger.WarnContext(ctx, "webhook event for unknown payment reference",
				"event_id", event.ID, "payment_reference", event.PaymentReference)
			return domain.OutcomeRejected, "unknown payment reference", nil, nil
		}
		return "", "", nil, err
	}

	at := event.OccurredAt
	if at.IsZero() {
		at = r.now()
	}

	switch event.Kind {
	case domain.KindPaymentSucceeded:
		return r.applySucceeded(ctx, event, *rec, at)
	case domain.KindPaymentFailed:
		return r.applyFailed(ctx, event, at)
	case domain.KindRefundIssued:
		return r.applyRefund(ctx, event, at)
	}
	return domain.OutcomeIgnored, "", nil, nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, event domain.PaymentEvent, rec domain.Record, at time.Time) (domain.Outcome, string, []sharedDomain.DomainEvent, error) {
	if rec.Status == domain.StatusPending && event.Amount != nil && !event.Amount.Equals(rec.Amount) {
		detail := fmt.Sprintf("expected %s, processor collected %s", rec.Amount, *event.Amount)
		return r.failWithIncident(ctx, event, at, domain.ReasonPriceMismatch, domain.IncidentPriceMismatch,
			domain.OutcomeFailedPriceMismatch, detail)
	}

	res, err := r.ledger.MarkCompleted(ctx, event.PaymentReference, at)
	if errors.Is(err, domain.ErrAlreadyEntitled) {
		return r.failWithIncident(ctx, event, at, domain.ReasonDuplicatePayment, domain.IncidentDuplicatePayment,
			domain.OutcomeFailedDuplicatePayment, "user already owns this content")
	}
	if err != nil {
		return "", "", nil, err
	}

	if res.Applied {
		return domain.OutcomeApplied, "", []sharedDomain.DomainEvent{
			domain.NewPurchaseEvent(domain.RoutingKeyCompleted, res.Record, event.ID, at),
		}, nil
	}

	if res.Previous == domain.StatusFailed {
		detail := "payment succeeded for a purchase already marked failed"
		r.logger.ErrorContext(ctx, "purchase incident",
			"incident", domain.IncidentPaidAfterFailure, "payment_reference", event.PaymentReference, "event_id", event.ID)
		return domain.OutcomeNoop, detail, []sharedDomain.DomainEvent{
			domain.NewIncidentEvent(res.Record, domain.IncidentPaidAfterFailure, detail, event.ID, at),
		}, nil
	}
	return domain.OutcomeNoop, "already " + string(res.Previous), nil, nil
}

func (r *Reconciler) applyFailed(ctx context.Context, event domain.PaymentEvent, at time.Time) (domain.Outcome, string, []sharedDomain.DomainEvent, error) {
	reason := event.FailureReason
	if reason == "" {
		reason = domain.ReasonPaymentFailed
	}

	res, err := r.ledger.MarkFailed(ctx, event.PaymentReference, reason, at)
	if err != nil {
		return "", "", nil, err
	}
	if !res.Applied {
		return domain.OutcomeNoop, "already " + string(res.Previous), nil, nil
	}

	return domain.OutcomeApplied, reason, []sharedDomain.DomainEvent{
		domain.NewPurchaseEvent(domain.RoutingKeyFailed, res.Record, event.ID, at),
	}, nil
}

func (r *Reconciler) applyRefund(ctx context.Context, event domain.PaymentEvent, at time.Time) (domain.Outcome, string, []sharedDomain.DomainEvent, error) {
	res, err := r.ledger.MarkRefunded(ctx, event.PaymentReference, at)
	switch {
	case errors.Is(err, domain.ErrTransitionNotReady):
		return "", "", nil, fmt.Errorf("%w: %w", sharedDomain.ErrUpstreamUnavailable, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		r.logger.InfoContext(ctx, "refund for a purchase that never completed",
			"payment_reference", event.PaymentReference, "event_id", event.ID)
		return domain.OutcomeNoop, "refund for failed purchase", nil, nil
	case err != nil:
		return "", "", nil, err
	}

	if !res.Applied {
		return domain.OutcomeNoop, "already " + string(res.Previous), nil, nil
	}

	return domain.OutcomeApplied, "", []sharedDomain.DomainEvent{
		domain.NewPurchaseEvent(domain.RoutingKeyRefunded, res.Record, event.ID, at),
	}, nil
}

func (r *Reconciler) failWithIncident(
	ctx context.Context,
	event domain.PaymentEvent,
	at time.Time,
	reason, incident string,
	outcome domain.Outcome,
	detail string,
) (domain.Outcome, string, []sharedDomain.DomainEvent, error) {
	res, err := r.ledger.MarkFailed(ctx, event.PaymentReference, reason, at)
	if err != nil {
		return "", "", nil, err
	}

	r.logger.ErrorContext(ctx, "purchase incident",
		"incident", incident,
		"payment_reference", event.PaymentReference,
		"event_id", event.ID,
		"detail", detail,
	)

	events := []sharedDomain.DomainEvent{domain.NewIncidentEvent(res.Record, incident, detail, event.ID, at)}
	if res.Applied {
		events = append(events, domain.NewPurchaseEvent(domain.RoutingKeyFailed, res.Record, event.ID, at))
	}
	return outcome, detail, events, nil
}
