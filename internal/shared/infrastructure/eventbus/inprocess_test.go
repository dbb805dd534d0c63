package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInProcessPublisher_DispatchesByRoutingKey(t *testing.T) {
	p := NewInProcessPublisher(nil)

	var got []string
	p.Subscribe(func(ctx context.Context, key string, payload []byte) error {
		got = append(got, key+":"+string(payload))
		return nil
	}, "purchase.completed", "purchase.refunded")

	assert.NoError(t, p.Publish(context.Background(), "purchase.completed", []byte("a")))
	assert.NoError(t, p.Publish(context.Background(), "purchase.failed", []byte("b")))
	assert.NoError(t, p.Publish(context.Background(), "purchase.refunded", []byte("c")))

	assert.Equal(t, []string{"purchase.completed:a", "purchase.refunded:c"}, got)
}

func TestInProcessPublisher_ReturnsHandlerError(t *testing.T) {
	p := NewInProcessPublisher(nil)
	calls := 0
	p.Subscribe(func(context.Context, string, []byte) error {
		calls++
		return errors.New("handler down")
	}, "purchase.incident")
	p.Subscribe(func(context.Context, string, []byte) error {
		calls++
		return nil
	}, "purchase.incident")

	err := p.Publish(context.Background(), "purchase.incident", nil)
	assert.EqualError(t, err, "handler down")
	assert.Equal(t, 2, calls, "later handlers still run")
}

func TestInProcessPublisher_NoSubscribers(t *testing.T) {
	p := NewInProcessPublisher(nil)
	assert.NoError(t, p.Publish(context.Background(), "purchase.completed", []byte("{}")))
	assert.NoError(t, p.Close())
}
