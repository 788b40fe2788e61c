package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/database"
)

func newSQLiteBackend(t *testing.T, timeout time.Duration) *SQLiteBackend {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := NewSQLiteBackend(context.Background(), db, timeout)
	require.NoError(t, err)
	return b
}

func TestNewSQLiteBackend_RequiresDatabase(t *testing.T) {
	_, err := NewSQLiteBackend(context.Background(), nil, time.Second)
	assert.Error(t, err)
}

func TestSQLiteBackend_ReadMissing(t *testing.T) {
	b := newSQLiteBackend(t, time.Second)

	_, err := b.Read(context.Background(), Devices)
	assert.ErrorIs(t, err, ErrMissing)

	_, err = b.Stat(context.Background(), Devices)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestSQLiteBackend_Ensure(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t, time.Second)

	created, err := b.Ensure(ctx, Tokens, []byte("{}"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.Ensure(ctx, Tokens, []byte(`{"ignored":true}`))
	require.NoError(t, err)
	assert.False(t, created)

	data, err := b.Read(ctx, Tokens)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestSQLiteBackend_CommitBumpsVersion(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t, time.Second)
	_, err := b.Ensure(ctx, Instants, []byte("{}"))
	require.NoError(t, err)

	before, err := b.Stat(ctx, Instants)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), before.Serial)

	txn, err := b.Begin(ctx, Instants)
	require.NoError(t, err)
	data, err := txn.Read()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	require.NoError(t, txn.Write([]byte(`{"tok":{}}`)))
	require.NoError(t, txn.Commit())

	after, err := b.Stat(ctx, Instants)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), after.Serial)
	assert.Equal(t, int64(len(`{"tok":{}}`)), after.Size)

	data, err = b.Read(ctx, Instants)
	require.NoError(t, err)
	assert.Equal(t, `{"tok":{}}`, string(data))
}

func TestSQLiteBackend_CommitCreatesMissingRow(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t, time.Second)

	txn, err := b.Begin(ctx, Properties)
	require.NoError(t, err)
	_, err = txn.Read()
	assert.ErrorIs(t, err, ErrMissing)
	require.NoError(t, txn.Write([]byte("{}")))
	require.NoError(t, txn.Commit())

	data, err := b.Read(ctx, Properties)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestSQLiteBackend_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t, time.Second)
	_, err := b.Ensure(ctx, Tokens, []byte("{}"))
	require.NoError(t, err)

	txn, err := b.Begin(ctx, Tokens)
	require.NoError(t, err)
	require.NoError(t, txn.Write([]byte(`{"x":1}`)))
	require.NoError(t, txn.Rollback())

	data, err := b.Read(ctx, Tokens)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestSQLiteBackend_LockTimeout(t *testing.T) {
	ctx := context.Background()
	b := newSQLiteBackend(t, 50*time.Millisecond)

	held, err := b.Begin(ctx, Tokens)
	require.NoError(t, err)

	_, err = b.Begin(ctx, Devices)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, held.Rollback())

	txn, err := b.Begin(ctx, Devices)
	require.NoError(t, err)
	assert.NoError(t, txn.Rollback())
}
