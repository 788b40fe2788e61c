package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// dirPerm keeps the storage directory private to the service user.
	dirPerm = 0o750

	// filePerm keeps documents private; they hold raw device tokens.
	filePerm = 0o600

	// lockPollInterval is how often a contended flock is retried.
	lockPollInterval = 10 * time.Millisecond
)

// FileBackend stores each document as a JSON file in one directory.
//
// Exclusivity is two-level: a per-document semaphore serialises goroutines of
// this process, and an advisory flock on "<file>.lock" serialises processes
// sharing the directory. Writes go to a temporary file that is fsynced and
// renamed over the document, so readers see either the old or the new
// content, never a prefix.
type FileBackend struct {
	dir         string
	lockTimeout time.Duration

	mu     sync.Mutex
	sems   map[Name]semaphore
	closed bool
}

// NewFileBackend creates the storage directory if needed and returns a
// backend rooted there. A zero lockTimeout selects the default of 5s.
func NewFileBackend(dir string, lockTimeout time.Duration) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: directory is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("store: creating directory: %w", err)
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &FileBackend{
		dir:         dir,
		lockTimeout: lockTimeout,
		sems:        make(map[Name]semaphore, len(fileNames)),
	}, nil
}

// Dir returns the storage directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file path of a document.
func (b *FileBackend) Path(name Name) string {
	return filepath.Join(b.dir, fileNames[name])
}

// Read returns the document content.
func (b *FileBackend) Read(_ context.Context, name Name) ([]byte, error) {
	if err := b.check(name); err != nil {
		return nil, err
	}
	return readFile(b.Path(name))
}

// Stat returns the document's modification time, size, and inode.
func (b *FileBackend) Stat(_ context.Context, name Name) (Stamp, error) {
	if err := b.check(name); err != nil {
		return Stamp{}, err
	}
	var st unix.Stat_t
	if err := unix.Stat(b.Path(name), &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return Stamp{}, fmt.Errorf("%w: %s", ErrMissing, name)
		}
		return Stamp{}, fmt.Errorf("stat %s: %w", name, err)
	}
	return Stamp{
		Modified: st.Mtim.Nano(),
		Size:     st.Size,
		Serial:   st.Ino,
	}, nil
}

// Begin acquires the in-process semaphore and then the cross-process flock
// for a document.
func (b *FileBackend) Begin(ctx context.Context, name Name) (Txn, error) {
	if !name.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}
	sem, err := b.semaphore(name)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(b.lockTimeout)
	if err := sem.acquire(ctx, b.lockTimeout); err != nil {
		return nil, fmt.Errorf("locking %s: %w", name, err)
	}

	lock, err := b.flock(ctx, name, deadline)
	if err != nil {
		sem.release()
		return nil, fmt.Errorf("locking %s: %w", name, err)
	}

	return &fileTxn{backend: b, name: name, sem: sem, lock: lock}, nil
}

// Ensure writes the initial content if the document file does not exist.
func (b *FileBackend) Ensure(ctx context.Context, name Name, initial []byte) (bool, error) {
	txn, err := b.Begin(ctx, name)
	if err != nil {
		return false, err
	}

	if _, err := txn.Read(); err == nil {
		return false, txn.Rollback()
	} else if !errors.Is(err, ErrMissing) {
		_ = txn.Rollback()
		return false, err
	}

	if err := txn.Write(initial); err != nil {
		_ = txn.Rollback()
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Close marks the backend closed. Held transactions remain valid until
// they are committed or rolled back.
func (b *FileBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *FileBackend) check(name Name) error {
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

func (b *FileBackend) semaphore(name Name) (semaphore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sem, ok := b.sems[name]
	if !ok {
		sem = newSemaphore()
		b.sems[name] = sem
	}
	return sem, nil
}

// flock opens the document's lock file and polls a non-blocking exclusive
// flock until it succeeds, ctx ends, or the deadline passes.
func (b *FileBackend) flock(ctx context.Context, name Name, deadline time.Time) (*os.File, error) {
	f, err := os.OpenFile(b.Path(name)+".lock", os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

type fileTxn struct {
	backend *FileBackend
	name    Name
	sem     semaphore
	lock    *os.File

	staged []byte
	dirty  bool
	once   sync.Once
	done   bool
}

func (t *fileTxn) Read() ([]byte, error) {
	if t.done {
		return nil, ErrClosed
	}
	return readFile(t.backend.Path(t.name))
}

func (t *fileTxn) Write(data []byte) error {
	if t.done {
		return ErrClosed
	}
	t.staged = append(t.staged[:0], data...)
	t.dirty = true
	return nil
}

func (t *fileTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	var err error
	if t.dirty {
		err = writeFileAtomic(t.backend.Path(t.name), t.staged)
	}
	return errors.Join(err, t.release())
}

func (t *fileTxn) Rollback() error {
	if t.done {
		return nil
	}
	return t.release()
}

// release drops the flock and then the semaphore, in reverse acquisition order.
func (t *fileTxn) release() error {
	var err error
	t.once.Do(func() {
		t.done = true
		if uerr := unix.Flock(int(t.lock.Fd()), unix.LOCK_UN); uerr != nil {
			err = fmt.Errorf("unlock %s: %w", t.name, uerr)
		}
		if cerr := t.lock.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.sem.release()
	})
	return err
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissing, filepath.Base(path))
		}
		return nil, err
	}
	return data, nil
}

// writeFileAtomic replaces path with data: write a sibling temp file, fsync
// it, rename it into place, then fsync the directory so the rename itself is
// durable.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}
