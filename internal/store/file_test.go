package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackend(t *testing.T, timeout time.Duration) *FileBackend {
	t.Helper()
	b, err := NewFileBackend(t.TempDir(), timeout)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestNewFileBackend_RequiresDirectory(t *testing.T) {
	_, err := NewFileBackend("", time.Second)
	assert.Error(t, err)
}

func TestFileBackend_ReadMissing(t *testing.T) {
	b := newFileBackend(t, time.Second)

	_, err := b.Read(context.Background(), Tokens)
	assert.ErrorIs(t, err, ErrMissing)

	_, err = b.Stat(context.Background(), Tokens)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestFileBackend_UnknownDocument(t *testing.T) {
	b := newFileBackend(t, time.Second)

	_, err := b.Read(context.Background(), Name("passwords"))
	assert.ErrorIs(t, err, ErrUnknownDocument)

	_, err = b.Begin(context.Background(), Name("passwords"))
	assert.ErrorIs(t, err, ErrUnknownDocument)
}

func TestFileBackend_Ensure(t *testing.T) {
	ctx := context.Background()
	b := newFileBackend(t, time.Second)

	created, err := b.Ensure(ctx, Properties, []byte("{}"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, filepath.Join(b.Dir(), "brain.json"))

	require.NoError(t, os.WriteFile(b.Path(Properties), []byte(`{"k":1}`), 0o600))

	created, err = b.Ensure(ctx, Properties, []byte("{}"))
	require.NoError(t, err)
	assert.False(t, created)

	data, err := b.Read(ctx, Properties)
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(data), "Ensure must not overwrite existing content")
}

func TestFileBackend_CommitReplacesContent(t *testing.T) {
	ctx := context.Background()
	b := newFileBackend(t, time.Second)
	_, err := b.Ensure(ctx, Devices, []byte("{}"))
	require.NoError(t, err)
	before, err := b.Stat(ctx, Devices)
	require.NoError(t, err)

	txn, err := b.Begin(ctx, Devices)
	require.NoError(t, err)
	require.NoError(t, txn.Write([]byte(`{"a":{}}`)))

	// Staged content is invisible until commit.
	data, err := b.Read(ctx, Devices)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	require.NoError(t, txn.Commit())

	data, err = b.Read(ctx, Devices)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{}}`, string(data))

	after, err := b.Stat(ctx, Devices)
	require.NoError(t, err)
	assert.NotEqual(t, before, after)

	info, err := os.Stat(b.Path(Devices))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.NoFileExists(t, b.Path(Devices)+".tmp")
}

func TestFileBackend_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	b := newFileBackend(t, time.Second)
	_, err := b.Ensure(ctx, Tokens, []byte("{}"))
	require.NoError(t, err)

	txn, err := b.Begin(ctx, Tokens)
	require.NoError(t, err)
	require.NoError(t, txn.Write([]byte(`{"x":1}`)))
	require.NoError(t, txn.Rollback())

	data, err := b.Read(ctx, Tokens)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	// The lock is free again.
	txn, err = b.Begin(ctx, Tokens)
	require.NoError(t, err)
	assert.NoError(t, txn.Rollback())
}

func TestFileBackend_TxnUnusableAfterRelease(t *testing.T) {
	b := newFileBackend(t, time.Second)

	txn, err := b.Begin(context.Background(), Tokens)
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	assert.ErrorIs(t, txn.Write([]byte("{}")), ErrClosed)
	assert.ErrorIs(t, txn.Commit(), ErrClosed)
	assert.NoError(t, txn.Rollback())
}

func TestFileBackend_LockTimeoutInProcess(t *testing.T) {
	ctx := context.Background()
	b := newFileBackend(t, 50*time.Millisecond)

	held, err := b.Begin(ctx, Instants)
	require.NoError(t, err)
	defer held.Rollback()

	_, err = b.Begin(ctx, Instants)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// Other documents are independent.
	other, err := b.Begin(ctx, Tokens)
	require.NoError(t, err)
	assert.NoError(t, other.Rollback())
}

func TestFileBackend_LockTimeoutAcrossBackends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileBackend(dir, time.Second)
	require.NoError(t, err)
	second, err := NewFileBackend(dir, 50*time.Millisecond)
	require.NoError(t, err)

	held, err := first.Begin(ctx, Devices)
	require.NoError(t, err)

	// Separate backends share only the flock, as separate processes would.
	_, err = second.Begin(ctx, Devices)
	assert.ErrorIs(t, err, ErrLockTimeout)

	require.NoError(t, held.Rollback())

	txn, err := second.Begin(ctx, Devices)
	require.NoError(t, err)
	assert.NoError(t, txn.Rollback())
}

func TestFileBackend_BeginHonoursContext(t *testing.T) {
	b := newFileBackend(t, time.Minute)

	held, err := b.Begin(context.Background(), Tokens)
	require.NoError(t, err)
	defer held.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = b.Begin(ctx, Tokens)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileBackend_Closed(t *testing.T) {
	b := newFileBackend(t, time.Second)
	require.NoError(t, b.Close())

	_, err := b.Begin(context.Background(), Tokens)
	assert.ErrorIs(t, err, ErrClosed)
}
