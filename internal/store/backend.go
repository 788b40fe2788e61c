package store

import (
	"context"
	"time"
)

// Stamp identifies one version of a document as seen by its backend.
// Two equal stamps mean the content has not been replaced in between.
type Stamp struct {
	// Modified is the modification time in nanoseconds since the epoch.
	Modified int64

	// Size is the content length in bytes.
	Size int64

	// Serial is backend specific: the inode for files (every replace
	// renames a new file into place) and the row version for SQLite.
	Serial uint64
}

// IsZero reports whether the stamp is unset.
func (s Stamp) IsZero() bool {
	return s == Stamp{}
}

// Backend is the durable medium behind a Store.
//
// Implementations must make Txn exclusive per document across goroutines
// and processes, and must make a committed Write replace the whole document
// at once.
type Backend interface {
	// Read returns the current content of a document without locking.
	// A missing document yields an error wrapping ErrMissing.
	Read(ctx context.Context, name Name) ([]byte, error)

	// Stat returns the current Stamp of a document.
	Stat(ctx context.Context, name Name) (Stamp, error)

	// Begin acquires the document's exclusive lock, waiting at most the
	// backend's lock timeout.
	Begin(ctx context.Context, name Name) (Txn, error)

	// Ensure creates the document with the initial content if it does not
	// exist, and reports whether it did so.
	Ensure(ctx context.Context, name Name, initial []byte) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Txn is an exclusive read-modify-write session on one document.
// Exactly one of Commit or Rollback must be called; both release the lock.
type Txn interface {
	// Read returns the document content as of lock acquisition.
	Read() ([]byte, error)

	// Write stages the full replacement content. Nothing is visible to
	// other readers until Commit.
	Write(data []byte) error

	// Commit applies the staged content (if any) and releases the lock.
	Commit() error

	// Rollback discards staged content and releases the lock.
	Rollback() error
}

// defaultLockTimeout applies when a backend is built with a zero timeout.
const defaultLockTimeout = 5 * time.Second

// semaphore is a context- and timeout-aware mutex.
type semaphore chan struct{}

func newSemaphore() semaphore {
	return make(semaphore, 1)
}

// acquire waits for the semaphore until ctx is done or the timeout elapses.
func (s semaphore) acquire(ctx context.Context, timeout time.Duration) error {
	select {
	case s <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

func (s semaphore) release() {
	<-s
}
