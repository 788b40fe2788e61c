package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/jsonc"
)

// emptyDocument is the content of a freshly initialised document.
var emptyDocument = []byte("{}\n")

// Logger defines the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that discards all messages.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Store.
type Options struct {
	// Cached lists documents served from memory while their Stamp is unchanged.
	Cached []Name

	// Registerer receives the store's counters. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	// Logger receives malformed-content warnings. Nil discards them.
	Logger Logger
}

type cacheEntry struct {
	stamp Stamp
	data  []byte
}

// Store loads and updates documents on a Backend.
type Store struct {
	backend Backend
	logger  Logger
	metrics *Metrics

	cached  map[Name]bool
	cacheMu sync.Mutex
	cache   map[Name]cacheEntry
}

// New creates a Store over backend.
func New(backend Backend, opts Options) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("store: backend is required")
	}

	s := &Store{
		backend: backend,
		logger:  opts.Logger,
		metrics: newMetrics(),
		cached:  make(map[Name]bool, len(opts.Cached)),
		cache:   make(map[Name]cacheEntry, len(opts.Cached)),
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	for _, n := range opts.Cached {
		if !n.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownDocument, n)
		}
		s.cached[n] = true
	}
	if opts.Registerer != nil {
		if err := s.metrics.register(opts.Registerer); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetLogger replaces the store's logger.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Init creates every missing document as an empty object and returns the
// names it created.
func (s *Store) Init(ctx context.Context) ([]Name, error) {
	var created []Name
	for _, n := range Names {
		ok, err := s.backend.Ensure(ctx, n, emptyDocument)
		if err != nil {
			return created, fmt.Errorf("%w: initialising %s: %w", ErrUnavailable, n, err)
		}
		if ok {
			created = append(created, n)
			s.logger.Info("document created", "document", n)
		}
	}
	return created, nil
}

// Load decodes the current content of a document into v, which must be a
// pointer to a zero value. Missing or unreadable documents return an error
// wrapping ErrUnavailable. Malformed content leaves v at its zero value and
// returns nil.
func (s *Store) Load(ctx context.Context, name Name, v any) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}

	data, err := s.read(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: loading %s: %w", ErrUnavailable, name, err)
	}
	s.decode(name, data, v)
	s.logger.Debug("document loaded", "document", name, "bytes", len(data))
	return nil
}

// Update runs a locked read-modify-write cycle on a document.
//
// The current content is decoded into v (a pointer to a zero value), then fn
// runs. If fn reports a change, v is encoded and committed as the new
// content; otherwise nothing is written. The lock is held from before the
// read until after the write and is released on every path, including a
// non-nil error from fn, which is returned unchanged. fn must not call back
// into the Store.
func (s *Store) Update(ctx context.Context, name Name, v any, fn func() (bool, error)) error {
	if !name.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownDocument, name)
	}

	start := time.Now()
	txn, err := s.backend.Begin(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	s.metrics.lockWait.WithLabelValues(string(name)).Observe(time.Since(start).Seconds())

	data, err := txn.Read()
	if err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("%w: loading %s: %w", ErrUnavailable, name, err)
	}
	s.metrics.reads.WithLabelValues(string(name)).Inc()
	s.decode(name, data, v)

	changed, err := fn()
	if err != nil || !changed {
		if rerr := txn.Rollback(); rerr != nil {
			s.logger.Warn("releasing document lock", "document", name, "error", rerr)
		}
		return err
	}

	out, err := encode(v)
	if err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := txn.Write(out); err != nil {
		_ = txn.Rollback()
		return fmt.Errorf("%w: saving %s: %w", ErrUnavailable, name, err)
	}
	// Invalidate before releasing the lock; the next Load re-reads and
	// re-stamps from the backend.
	s.invalidate(name)
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("%w: saving %s: %w", ErrUnavailable, name, err)
	}
	s.metrics.writes.WithLabelValues(string(name)).Inc()
	s.logger.Debug("document saved", "document", name, "bytes", len(out))
	return nil
}

// HealthCheck verifies every document can be stamped.
func (s *Store) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, n := range Names {
		if _, err := s.backend.Stat(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
	}
	return nil
}

// Close drops the cache and closes the backend.
func (s *Store) Close() error {
	s.cacheMu.Lock()
	clear(s.cache)
	s.cacheMu.Unlock()
	return s.backend.Close()
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// read returns raw content, from the cache when the document is cached and
// its stamp has not moved.
func (s *Store) read(ctx context.Context, name Name) ([]byte, error) {
	if !s.cached[name] {
		data, err := s.backend.Read(ctx, name)
		if err != nil {
			return nil, err
		}
		s.metrics.reads.WithLabelValues(string(name)).Inc()
		return data, nil
	}

	stamp, err := s.backend.Stat(ctx, name)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	entry, ok := s.cache[name]
	s.cacheMu.Unlock()
	if ok && entry.stamp == stamp {
		s.metrics.cacheHits.WithLabelValues(string(name)).Inc()
		return entry.data, nil
	}

	// Read after Stat: the content is at least as new as the stamp, so a
	// racing writer can only cause an extra read later, never a stale hit.
	data, err := s.backend.Read(ctx, name)
	if err != nil {
		return nil, err
	}
	s.metrics.reads.WithLabelValues(string(name)).Inc()

	s.cacheMu.Lock()
	s.cache[name] = cacheEntry{stamp: stamp, data: data}
	s.cacheMu.Unlock()
	return data, nil
}

func (s *Store) invalidate(name Name) {
	if !s.cached[name] {
		return
	}
	s.cacheMu.Lock()
	delete(s.cache, name)
	s.cacheMu.Unlock()
}

// decode parses data into v. Blank content is an empty document. Anything
// that does not parse is logged and counted, and v is reset to zero.
func (s *Store) decode(name Name, data []byte, v any) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}
	if err := json.Unmarshal(jsonc.ToJSON(trimmed), v); err != nil {
		resetValue(v)
		s.metrics.malformed.WithLabelValues(string(name)).Inc()
		s.logger.Warn("treating malformed document as empty",
			"document", name,
			"error", fmt.Errorf("%w: %w", ErrMalformed, err),
		)
	}
}

func encode(v any) ([]byte, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// resetValue zeroes whatever a failed Unmarshal may have partially filled.
func resetValue(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().SetZero()
	}
}
