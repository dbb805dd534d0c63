package persistence

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

// fakeTx satisfies pgx.Tx; only its identity matters here.
type fakeTx struct {
	pgx.Tx
}

func TestWithTx_RoundTrip(t *testing.T) {
	tx := &fakeTx{}
	ctx := WithTx(context.Background(), tx, true)

	info, ok := TxInfoFromContext(ctx)
	assert.True(t, ok)
	assert.Same(t, tx, info.Tx)
	assert.True(t, info.Owned)
}

func TestTxInfoFromContext_Empty(t *testing.T) {
	_, ok := TxInfoFromContext(context.Background())
	assert.False(t, ok)
}

func TestPostgresUnitOfWork_NestedBeginDoesNotOwn(t *testing.T) {
	uow := NewPostgresUnitOfWork(nil)
	outer := WithTx(context.Background(), &fakeTx{}, true)

	inner, err := uow.Begin(outer)
	assert.NoError(t, err)

	info, _ := TxInfoFromContext(inner)
	assert.False(t, info.Owned)
	// Not owned, so neither call reaches the (nil) transaction methods.
	assert.NoError(t, uow.Commit(inner))
	assert.NoError(t, uow.Rollback(inner))
}

func TestPostgresUnitOfWork_NoTransaction(t *testing.T) {
	uow := NewPostgresUnitOfWork(nil)
	assert.ErrorIs(t, uow.Commit(context.Background()), ErrNoTransaction)
}
