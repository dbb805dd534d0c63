// Package application orchestrates payment intents and webhook
// reconciliation on top of the purchase ledger.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	catalogDomain "github.com/felixgeelhaar/tollgate/internal/catalog/domain"
	identityDomain "github.com/felixgeelhaar/tollgate/internal/identity/domain"
	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	sharedDomain "github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

const maxNonceLength = 128

// CreateIntentCommand starts or resumes a purchase attempt. Retrying with the
// same nonce resumes the same attempt.
type CreateIntentCommand struct {
	ContentID string
	Identity  identityDomain.Identity
	Nonce     string
}

// IntentResult is what the client needs to complete payment. ClientHandle is
// empty when the content is already owned.
type IntentResult struct {
	ClientHandle     string
	PaymentReference string
	Amount           sharedDomain.Money
	Status           domain.Status
}

// Gateway creates payment intents for paid content.
type Gateway struct {
	catalog       catalogDomain.Source
	ledger        domain.Ledger
	processor     domain.PaymentProcessor
	ledgerTimeout time.Duration
	logger        *slog.Logger
	metrics       observability.Metrics
	now           func() time.Time
}

// NewGateway creates a gateway.
func NewGateway(
	catalog catalogDomain.Source,
	ledger domain.Ledger,
	processor domain.PaymentProcessor,
	ledgerTimeout time.Duration,
	logger *slog.Logger,
	metrics observability.Metrics,
) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		catalog:       catalog,
		ledger:        ledger,
		processor:     processor,
		ledgerTimeout: ledgerTimeout,
		logger:        logger,
		metrics:       observability.OrNoop(metrics),
		now:           time.Now,
	}
}

// CreateIntent snapshots the price into a pending record and asks the
// processor for an intent keyed by the deterministic payment reference.
func (g *Gateway) CreateIntent(ctx context.Context, cmd CreateIntentCommand) (IntentResult, error) {
	result, err := observability.TimeOperationResult(g.logger, g.metrics, "payment_intent.create", func() (IntentResult, error) {
		return g.createIntent(ctx, cmd)
	})
	outcome := "created"
	switch {
	case err != nil:
		outcome = "error"
	case result.Status == domain.StatusCompleted:
		outcome = "already_owned"
	}
	g.metrics.Counter(observability.MetricPaymentIntents, 1, observability.T("outcome", outcome))
	return result, err
}

func (g *Gateway) createIntent(ctx context.Context, cmd CreateIntentCommand) (IntentResult, error) {
	if cmd.Identity.IsAnonymous() {
		return IntentResult{}, fmt.Errorf("%w: purchases require a signed-in user", sharedDomain.ErrValidation)
	}
	nonce := strings.TrimSpace(cmd.Nonce)
	if nonce == "" || len(nonce) > maxNonceLength {
		return IntentResult{}, fmt.Errorf("%w: nonce must be 1 to %d characters", sharedDomain.ErrValidation, maxNonceLength)
	}

	desc, err := g.catalog.Get(ctx, cmd.ContentID)
	if err != nil {
		return IntentResult{}, err
	}
	if !desc.IsPaid() {
		return IntentResult{}, fmt.Errorf("%w: content %s is not for sale", sharedDomain.ErrValidation, desc.ID)
	}

	userID := cmd.Identity.UserID
	owned, err := g.ownedRecord(ctx, cmd.Identity, desc.ID)
	if err != nil {
		return IntentResult{}, err
	}
	if owned != nil {
		g.logger.InfoContext(ctx, "content already owned",
			"user_id", userID, "content_id", desc.ID, "payment_reference", owned.PaymentReference)
		return completedResult(owned), nil
	}

	reference := domain.PaymentReference(userID, desc.ID, nonce)
	rec, created, err := g.createPending(ctx, domain.NewPurchase{
		UserID:           userID,
		ContentID:        desc.ID,
		Amount:           desc.Price,
		PaymentReference: reference,
		CreatedAt:        g.now(),
	})
	if err != nil {
		return IntentResult{}, err
	}

	if !created {
		if rec.UserID != userID || rec.ContentID != desc.ID {
			return IntentResult{}, fmt.Errorf("%w: payment reference belongs to another purchase", sharedDomain.ErrValidation)
		}
		switch rec.Status {
		case domain.StatusCompleted:
			return completedResult(rec), nil
		case domain.StatusFailed, domain.StatusRefunded:
			return IntentResult{}, domain.ErrReferenceSettled
		}
	}

	intent, err := g.processor.CreateIntent(ctx, domain.IntentRequest{
		PaymentReference: rec.PaymentReference,
		Amount:           rec.Amount,
		UserID:           userID,
		ContentID:        desc.ID,
		Email:            cmd.Identity.Email.String(),
	})
	if err != nil {
		g.logger.WarnContext(ctx, "payment intent failed, purchase stays pending",
			"payment_reference", rec.PaymentReference, "error", err)
		return IntentResult{}, sharedDomain.Unavailable("processor", err)
	}

	g.logger.InfoContext(ctx, "payment intent ready",
		"user_id", userID,
		"content_id", desc.ID,
		"payment_reference", rec.PaymentReference,
		"amount", rec.Amount.String(),
		"resumed", !created,
	)

	return IntentResult{
		ClientHandle:     intent.ClientSecret,
		PaymentReference: rec.PaymentReference,
		Amount:           rec.Amount,
		Status:           domain.StatusPending,
	}, nil
}

func (g *Gateway) ownedRecord(ctx context.Context, identity identityDomain.Identity, contentID string) (*domain.Record, error) {
	ctx, cancel := g.withLedgerTimeout(ctx)
	defer cancel()

	rec, err := g.ledger.Current(ctx, identity.UserID, contentID)
	if err != nil {
		if sharedDomain.IsValidation(err) {
			return nil, nil
		}
		return nil, sharedDomain.Unavailable("ledger", err)
	}
	if rec.Status != domain.StatusCompleted {
		return nil, nil
	}
	return rec, nil
}

func (g *Gateway) createPending(ctx context.Context, purchase domain.NewPurchase) (*domain.Record, bool, error) {
	ctx, cancel := g.withLedgerTimeout(ctx)
	defer cancel()

	rec, created, err := g.ledger.CreatePending(ctx, purchase)
	if err != nil {
		return nil, false, sharedDomain.Unavailable("ledger", err)
	}
	return rec, created, nil
}

func (g *Gateway) withLedgerTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.ledgerTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.ledgerTimeout)
}

func completedResult(rec *domain.Record) IntentResult {
	return IntentResult{
		PaymentReference: rec.PaymentReference,
		Amount:           rec.Amount,
		Status:           domain.StatusCompleted,
	}
}
