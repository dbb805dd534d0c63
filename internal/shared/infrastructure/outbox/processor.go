package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/shared/domain"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/tollgate/pkg/observability"
)

// incidentPrefix marks routing keys whose loss needs an operator.
const incidentPrefix = "purchase.incident"

// ProcessorConfig holds configuration for the outbox processor.
type ProcessorConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// DefaultProcessorConfig returns the defaults used by the worker.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     500 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  1 * time.Minute,
	}
}

// Processor drains the outbox into the event bus. Each message is published
// at least once; consumers dedupe on the event id.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger
	metrics   observability.Metrics
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewProcessor creates a new outbox processor.
func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger, metrics observability.Metrics) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	return &Processor{
		repo:      repo,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   observability.OrNoop(metrics),
		now:       time.Now,
	}
}

// Start begins polling in a goroutine. It returns immediately and is a
// no-op while already running. The loop ends on Stop or when ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(runCtx, p.done)

	p.logger.Info("outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize,
	)
	return nil
}

// Stop cancels polling and waits for the in-flight batch.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("outbox processor stopped")
}

// IsRunning returns true if the processor is running.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Processor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessOnce processes a single batch synchronously.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	return p.processBatch(ctx)
}

func (p *Processor) processBatch(ctx context.Context) error {
	messages, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.recordError(err)
		return err
	}

	p.recordProcessed(messages)
	for _, msg := range messages {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.deliver(ctx, msg)
	}
	return nil
}

// deliver publishes one message and records the result on it.
func (p *Processor) deliver(ctx context.Context, msg *Message) {
	tag := observability.T("routing_key", msg.RoutingKey)

	if err := p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload); err != nil {
		p.handleFailure(ctx, msg, err)
		return
	}

	if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
		// The message stays unpublished and goes out again next batch.
		p.logger.Error("failed to mark message as published",
			"id", msg.ID,
			"event_id", msg.EventID,
			"error", err,
		)
		return
	}
	p.metrics.Counter(observability.MetricOutboxPublished, 1, tag)
	p.recordPublished()
}

func (p *Processor) handleFailure(ctx context.Context, msg *Message, err error) {
	meta := decodeMetadata(msg)
	attrs := []any{
		"id", msg.ID,
		"routing_key", msg.RoutingKey,
		"event_id", msg.EventID,
		"correlation_id", meta.CorrelationID,
		"user_id", meta.UserID,
		"retry_count", msg.RetryCount,
		"error", err,
	}
	tag := observability.T("routing_key", msg.RoutingKey)

	if p.shouldDeadLetter(msg) {
		if strings.HasPrefix(msg.RoutingKey, incidentPrefix) {
			p.logger.Error("purchase incident dead-lettered, operator follow-up required", attrs...)
		} else {
			p.logger.Warn("message dead-lettered", attrs...)
		}
		p.metrics.Counter(observability.MetricOutboxDead, 1, tag)
		p.recordFailure(err, true)
		if markErr := p.repo.MarkDead(ctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("failed to mark message as dead-lettered", "id", msg.ID, "error", markErr)
		}
		return
	}

	p.logger.Warn("failed to publish message", attrs...)
	p.metrics.Counter(observability.MetricOutboxFailed, 1, tag)
	p.recordFailure(err, false)
	nextRetryAt := p.now().Add(p.retryBackoff(msg.RetryCount + 1))
	if markErr := p.repo.MarkFailed(ctx, msg.ID, err.Error(), nextRetryAt); markErr != nil {
		p.logger.Error("failed to mark message as failed", "id", msg.ID, "error", markErr)
	}
}

func (p *Processor) shouldDeadLetter(msg *Message) bool {
	if p.config.MaxRetries <= 0 {
		return true
	}
	return msg.RetryCount+1 >= p.config.MaxRetries
}

// retryBackoff doubles from the base per attempt, capped at the max.
func (p *Processor) retryBackoff(attempt int) time.Duration {
	base := p.config.RetryBackoffBase
	if base <= 0 {
		base = time.Second
	}
	limit := p.config.RetryBackoffMax
	if limit <= 0 {
		limit = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return limit
	}
	backoff := base << (attempt - 1)
	if backoff <= 0 || backoff > limit {
		return limit
	}
	return backoff
}

type messageMetadata struct {
	CorrelationID string
	UserID        string
}

func decodeMetadata(msg *Message) messageMetadata {
	var metadata domain.EventMetadata
	if len(msg.Metadata) == 0 || json.Unmarshal(msg.Metadata, &metadata) != nil {
		return messageMetadata{}
	}
	return messageMetadata{
		CorrelationID: metadata.CorrelationID.String(),
		UserID:        metadata.UserID.String(),
	}
}

// Stats is a snapshot of what the processor has done since it was created.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// GetStats returns current processor statistics.
func (p *Processor) GetStats() Stats {
	running := p.IsRunning()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	stats := p.stats
	stats.IsRunning = running
	return stats
}

func (p *Processor) recordPublished() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.PublishedCount++
}

func (p *Processor) recordFailure(err error, dead bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	if dead {
		p.stats.DeadCount++
	} else {
		p.stats.FailedCount++
	}
	p.setLastError(err)
}

func (p *Processor) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.setLastError(err)
}

// setLastError requires statsMu.
func (p *Processor) setLastError(err error) {
	now := p.now()
	p.stats.LastError = err.Error()
	p.stats.LastErrorAt = &now
}

func (p *Processor) recordProcessed(messages []*Message) {
	now := p.now()

	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.LastProcessedAt = &now
	p.stats.LagSeconds = 0
	p.stats.OldestMessageAt = nil

	for _, msg := range messages {
		if p.stats.OldestMessageAt == nil || msg.CreatedAt.Before(*p.stats.OldestMessageAt) {
			created := msg.CreatedAt
			p.stats.OldestMessageAt = &created
		}
	}
	if p.stats.OldestMessageAt != nil {
		p.stats.LagSeconds = now.Sub(*p.stats.OldestMessageAt).Seconds()
	}
	p.metrics.Gauge(observability.MetricOutboxLag, p.stats.LagSeconds)
}
