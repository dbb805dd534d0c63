package outbox

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/migrations"
	sharedPersistence "github.com/felixgeelhaar/tollgate/internal/shared/infrastructure/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, migrations.RunSQLiteMigrations(ctx, db))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(setupSQLite(t))

	first, err := NewMessage(newTestEvent("ref-1"))
	require.NoError(t, err)
	second, err := NewMessage(newTestEvent("ref-2"))
	require.NoError(t, err)
	require.NoError(t, repo.SaveBatch(ctx, []*Message{first, second}))
	assert.NotZero(t, first.ID)

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.EventID, pending[0].EventID)
	assert.JSONEq(t, string(first.Payload), string(pending[0].Payload))

	require.NoError(t, repo.MarkPublished(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID, "broker down", time.Now().Add(time.Hour)))

	pending, err = repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "published and backed-off messages are not due")

	require.NoError(t, repo.MarkDead(ctx, second.ID, "gave up"))

	deleted, err := repo.DeleteOld(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestSQLiteRepository_SaveBatchJoinsTransaction(t *testing.T) {
	ctx := context.Background()
	db := setupSQLite(t)
	repo := NewSQLiteRepository(db)
	uow := sharedPersistence.NewSQLiteUnitOfWork(db)

	txCtx, err := uow.Begin(ctx)
	require.NoError(t, err)

	msg, err := NewMessage(newTestEvent("ref-1"))
	require.NoError(t, err)
	require.NoError(t, repo.SaveBatch(txCtx, []*Message{msg}))
	require.NoError(t, uow.Rollback(txCtx))

	pending, err := repo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
