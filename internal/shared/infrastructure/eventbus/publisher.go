// Package eventbus delivers outbox messages, either to RabbitMQ or to
// handlers in the same process.
package eventbus

import "context"

// Publisher delivers one message per call. A returned error means the
// message was not delivered and the outbox retries it.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}
