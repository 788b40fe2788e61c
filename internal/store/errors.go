package store

import "errors"

// Domain errors for the store package.
var (
	// ErrUnavailable is returned when a document cannot be read or written:
	// the backing file is missing, an I/O call failed, or the lock was not
	// acquired in time.
	ErrUnavailable = errors.New("store: document unavailable")

	// ErrLockTimeout is returned when a document lock is not acquired before
	// the lock timeout elapses. It is always reported together with ErrUnavailable.
	ErrLockTimeout = errors.New("store: lock timeout")

	// ErrMissing is returned by backends when a document does not exist.
	ErrMissing = errors.New("store: document missing")

	// ErrMalformed marks document content that failed to parse. Load and
	// Update never return it; it is used for logging and counters.
	ErrMalformed = errors.New("store: malformed document")

	// ErrUnknownDocument is returned for a document name outside the fixed set.
	ErrUnknownDocument = errors.New("store: unknown document")

	// ErrClosed is returned when a closed Store or Backend is used.
	ErrClosed = errors.New("store: closed")
)
