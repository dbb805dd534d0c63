package outbox

import (
	"context"
	"time"
)

// Writer appends messages. Purchase transitions hold only a Writer, scoped
// to their unit of work.
type Writer interface {
	Save(ctx context.Context, msg *Message) error
	// SaveBatch stores every message or none.
	SaveBatch(ctx context.Context, msgs []*Message) error
}

// Repository is the full outbox store the processor and worker drain.
type Repository interface {
	Writer

	// GetUnpublished returns pending messages whose retry time has come,
	// oldest first.
	GetUnpublished(ctx context.Context, limit int) ([]*Message, error)
	MarkPublished(ctx context.Context, id int64) error
	// MarkFailed bumps the retry count and defers the message to nextRetryAt.
	MarkFailed(ctx context.Context, id int64, err string, nextRetryAt time.Time) error
	// MarkDead parks a message for operators. It is never retried.
	MarkDead(ctx context.Context, id int64, reason string) error
	// DeleteOld purges published messages older than the retention window
	// and reports how many went.
	DeleteOld(ctx context.Context, olderThanDays int) (int64, error)
}
