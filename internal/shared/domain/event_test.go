package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewBaseEvent(t *testing.T) {
	aggregateID := uuid.New()
	before := time.Now().UTC()

	event := domain.NewBaseEvent(aggregateID, "Purchase", "purchase.completed")

	after := time.Now().UTC()

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, aggregateID, event.AggregateID())
	assert.Equal(t, "Purchase", event.AggregateType())
	assert.Equal(t, "purchase.completed", event.RoutingKey())
	assert.False(t, event.OccurredAt().Before(before))
	assert.False(t, event.OccurredAt().After(after))
}

func TestNewBaseEventAt_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, loc)

	event := domain.NewBaseEventAt(uuid.New(), "Purchase", "purchase.failed", at)

	assert.Equal(t, time.UTC, event.OccurredAt().Location())
	assert.True(t, at.Equal(event.OccurredAt()))
}

func TestBaseEvent_WithMetadata(t *testing.T) {
	correlationID := uuid.New()
	userID := uuid.New()

	event := domain.NewBaseEvent(uuid.New(), "Purchase", "purchase.refunded")
	event.SetMetadata(domain.EventMetadata{
		CorrelationID: correlationID,
		UserID:        userID,
	})

	metadata := event.Metadata()
	assert.Equal(t, correlationID, metadata.CorrelationID)
	assert.Equal(t, uuid.Nil, metadata.CausationID)
	assert.Equal(t, userID, metadata.UserID)
}
