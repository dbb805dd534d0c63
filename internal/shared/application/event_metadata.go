package application

import (
	"github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/google/uuid"
)

type metadataSetter interface {
	SetMetadata(metadata domain.EventMetadata)
}

// NewEventMetadata creates metadata for events raised while handling one request.
// A correlation id that is not a UUID (or is empty) is replaced with a fresh one.
func NewEventMetadata(userID uuid.UUID, correlationID string) domain.EventMetadata {
	corr, err := uuid.Parse(correlationID)
	if err != nil {
		corr = uuid.New()
	}
	return domain.EventMetadata{
		CorrelationID: corr,
		CausationID:   uuid.New(),
		UserID:        userID,
	}
}

// ApplyEventMetadata sets metadata on all events that support it.
func ApplyEventMetadata(events []domain.DomainEvent, metadata domain.EventMetadata) {
	for _, event := range events {
		if setter, ok := event.(metadataSetter); ok {
			setter.SetMetadata(metadata)
		}
	}
}
