package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/purchases/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteWebhookEventStore_ClaimOnce(t *testing.T) {
	store := NewSQLiteWebhookEventStore(setupTestDB(t))
	ctx := context.Background()
	received := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	event := domain.WebhookEvent{
		Provider:         "stripe",
		EventID:          "evt_1",
		EventType:        "payment_intent.succeeded",
		PaymentReference: "ref-1",
		ReceivedAt:       received,
	}

	existing, claimed, err := store.Claim(ctx, event)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, existing)

	require.NoError(t, store.Complete(ctx, "stripe", "evt_1", domain.OutcomeApplied, "", received.Add(time.Second)))

	existing, claimed, err = store.Claim(ctx, event)
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, existing)
	assert.Equal(t, domain.OutcomeApplied, existing.Outcome)
	assert.Equal(t, "ref-1", existing.PaymentReference)
	require.NotNil(t, existing.AppliedAt)

	// Same event id from another provider is a different event.
	event.Provider = "local"
	_, claimed, err = store.Claim(ctx, event)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSQLiteWebhookEventStore_NotFound(t *testing.T) {
	store := NewSQLiteWebhookEventStore(setupTestDB(t))
	ctx := context.Background()

	_, err := store.Find(ctx, "stripe", "evt_missing")
	assert.ErrorIs(t, err, domain.ErrWebhookEventNotFound)

	err = store.Complete(ctx, "stripe", "evt_missing", domain.OutcomeApplied, "", time.Now())
	assert.ErrorIs(t, err, domain.ErrWebhookEventNotFound)
}
