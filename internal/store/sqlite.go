package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/database"
)

// documentsSchema holds one row per document. version increments on every
// committed write and serves as the Stamp serial.
const documentsSchema = `CREATE TABLE IF NOT EXISTS documents (
	name       TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	updated_at TEXT NOT NULL
) STRICT`

// SQLiteBackend stores documents as rows of a single SQLite table.
//
// The database is opened with immediate transactions, so Begin takes the
// SQLite write lock up front and other processes wait out the busy timeout.
// Within this process, one semaphore guards the single pooled connection.
type SQLiteBackend struct {
	db          *database.DB
	lockTimeout time.Duration
	sem         semaphore

	mu     sync.Mutex
	closed bool
}

// NewSQLiteBackend ensures the documents table exists and returns a backend
// using db. The backend does not own db; the caller closes it.
func NewSQLiteBackend(ctx context.Context, db *database.DB, lockTimeout time.Duration) (*SQLiteBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("store: database is required")
	}
	if err := db.EnsureSchema(ctx, documentsSchema); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &SQLiteBackend{db: db, lockTimeout: lockTimeout, sem: newSemaphore()}, nil
}

// Read returns the document content.
func (b *SQLiteBackend) Read(ctx context.Context, name Name) ([]byte, error) {
	if err := b.check(name); err != nil {
		return nil, err
	}
	return readRow(ctx, b.db.QueryRowContext, name)
}

// Stat returns the document's version, size, and update time.
func (b *SQLiteBackend) Stat(ctx context.Context, name Name) (Stamp, error) {
	if err := b.check(name); err != nil {
		return Stamp{}, err
	}

	var (
		version   int64
		size      int64
		updatedAt string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT version, length(content), updated_at FROM documents WHERE name = ?`, string(name),
	).Scan(&version, &size, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Stamp{}, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return Stamp{}, fmt.Errorf("stat %s: %w", name, err)
	}

	var modified int64
	if ts, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		modified = ts.UnixNano()
	}
	return Stamp{Modified: modified, Size: size, Serial: uint64(version)}, nil
}

// Begin opens an immediate transaction. In-process callers queue on the
// backend semaphore for at most the lock timeout.
func (b *SQLiteBackend) Begin(ctx context.Context, name Name) (Txn, error) {
	if err := b.check(name); err != nil {
		return nil, err
	}
	if err := b.sem.acquire(ctx, b.lockTimeout); err != nil {
		return nil, fmt.Errorf("locking %s: %w", name, err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		b.sem.release()
		return nil, fmt.Errorf("locking %s: %w", name, err)
	}
	return &sqliteTxn{backend: b, tx: tx, ctx: ctx, name: name}, nil
}

// Ensure inserts the initial content if no row exists for the document.
func (b *SQLiteBackend) Ensure(ctx context.Context, name Name, initial []byte) (bool, error) {
	if err := b.check(name); err != nil {
		return false, err
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO documents (name, content, version, updated_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(name) DO NOTHING`,
		string(name), initial, nowStamp(),
	)
	if err != nil {
		return false, fmt.Errorf("ensuring %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensuring %s: %w", name, err)
	}
	return n > 0, nil
}

// Close marks the backend closed. The database handle is left open.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *SQLiteBackend) check(name Name) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

type sqliteTxn struct {
	backend *SQLiteBackend
	tx      *sql.Tx
	ctx     context.Context
	name    Name

	staged []byte
	dirty  bool
	done   bool
}

func (t *sqliteTxn) Read() ([]byte, error) {
	if t.done {
		return nil, ErrClosed
	}
	return readRow(t.ctx, t.tx.QueryRowContext, t.name)
}

func (t *sqliteTxn) Write(data []byte) error {
	if t.done {
		return ErrClosed
	}
	t.staged = append(t.staged[:0], data...)
	t.dirty = true
	return nil
}

func (t *sqliteTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	defer t.finish()

	if t.dirty {
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO documents (name, content, version, updated_at) VALUES (?, ?, 1, ?)
			 ON CONFLICT(name) DO UPDATE SET
			   content = excluded.content,
			   version = documents.version + 1,
			   updated_at = excluded.updated_at`,
			string(t.name), t.staged, nowStamp(),
		)
		if err != nil {
			_ = t.tx.Rollback()
			return fmt.Errorf("writing %s: %w", t.name, err)
		}
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", t.name, err)
	}
	return nil
}

func (t *sqliteTxn) Rollback() error {
	if t.done {
		return nil
	}
	defer t.finish()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func (t *sqliteTxn) finish() {
	t.done = true
	t.backend.sem.release()
}

type queryRowFunc func(ctx context.Context, query string, args ...any) *sql.Row

func readRow(ctx context.Context, query queryRowFunc, name Name) ([]byte, error) {
	var content []byte
	err := query(ctx, `SELECT content FROM documents WHERE name = ?`, string(name)).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return content, nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
