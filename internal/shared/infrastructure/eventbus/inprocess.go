package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Handler consumes one published message.
type Handler func(ctx context.Context, routingKey string, payload []byte) error

// InProcessPublisher delivers messages synchronously to handlers registered
// for their routing key. It replaces the broker in local mode.
type InProcessPublisher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// NewInProcessPublisher creates an empty in-process publisher.
func NewInProcessPublisher(logger *slog.Logger) *InProcessPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessPublisher{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for each routing key.
func (p *InProcessPublisher) Subscribe(h Handler, routingKeys ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range routingKeys {
		p.handlers[key] = append(p.handlers[key], h)
	}
}

// Publish runs every handler for routingKey. Handler failures are returned so
// the outbox retries the message.
func (p *InProcessPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.RLock()
	handlers := p.handlers[routingKey]
	p.mu.RUnlock()

	var lastErr error
	for _, h := range handlers {
		if err := h(ctx, routingKey, payload); err != nil {
			p.logger.Error("event handler failed", "routing_key", routingKey, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Close is a no-op.
func (p *InProcessPublisher) Close() error {
	return nil
}
