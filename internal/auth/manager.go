package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DeviceLookup resolves the permission level of a promoted token.
// It is implemented by the device registry.
type DeviceLookup interface {
	PermissionLevel(ctx context.Context, token string) (level int, ok bool, err error)
}

// Options configures a Manager.
type Options struct {
	// TTL is the validity window of issued tokens. Zero selects DefaultTTL.
	TTL time.Duration

	// MasterToken resolves to MasterPermissionLevel. Empty disables it.
	MasterToken string
}

// Manager issues, validates, and resolves tokens.
//
// All methods are safe for concurrent use, including from several processes
// sharing one store.
type Manager struct {
	store   *store.Store
	ttl     time.Duration
	master  []byte
	devices DeviceLookup
	now     func() time.Time
	logger  Logger
}

// NewManager creates a token manager over st.
func NewManager(st *store.Store, opts Options) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  st,
		ttl:    ttl,
		master: []byte(opts.MasterToken),
		now:    time.Now,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	m.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetDevices attaches the device lookup used by PermissionLevelFor.
func (m *Manager) SetDevices(devices DeviceLookup) {
	m.devices = devices
}

// TTL returns the validity window of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// IsMaster reports whether token is the master token, in constant time.
func (m *Manager) IsMaster(token string) bool {
	if len(m.master) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), m.master) == 1
}

// Issue records id as a pending token valid for the TTL from now. Expired
// entries are purged in the same write. Issuing an existing id restarts its
// validity window and replaces its level.
func (m *Manager) Issue(ctx context.Context, id string, level int) (Token, error) {
	if err := ValidateTokenID(id); err != nil {
		return Token{}, err
	}
	if m.IsMaster(id) {
		return Token{}, fmt.Errorf("%w: reserved", ErrInvalidTokenID)
	}
	if err := ValidatePermissionLevel(level); err != nil {
		return Token{}, err
	}

	now := m.now()
	issued := Token{ID: id, ValidUntil: now.Add(m.ttl), PermissionLevel: level}

	var purged int
	var doc tokenDocument
	err := m.store.Update(ctx, store.Tokens, &doc, func() (bool, error) {
		if doc == nil {
			doc = make(tokenDocument)
		}
		purged = purge(doc, now)
		doc[id] = issued
		return true, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("issuing token: %w", err)
	}

	m.logger.Info("token issued",
		"token", Fingerprint(id),
		"permission_level", level,
		"valid_until", issued.ValidUntil,
		"purged", purged,
	)
	return issued, nil
}

// IsValid reports whether id is a pending, unexpired token. The check
// purges every expired entry, persisting only if something was removed.
func (m *Manager) IsValid(ctx context.Context, id string) (bool, error) {
	now := m.now()

	var valid bool
	var purged int
	var doc tokenDocument
	err := m.store.Update(ctx, store.Tokens, &doc, func() (bool, error) {
		purged = purge(doc, now)
		_, valid = doc[id]
		return purged > 0, nil
	})
	if err != nil {
		return false, fmt.Errorf("validating token: %w", err)
	}

	if purged > 0 {
		m.logger.Debug("expired tokens purged", "count", purged)
	}
	return valid, nil
}

// Lookup returns the pending token id without modifying the document.
// Expired tokens are reported as absent.
func (m *Manager) Lookup(ctx context.Context, id string) (Token, bool, error) {
	var doc tokenDocument
	if err := m.store.Load(ctx, store.Tokens, &doc); err != nil {
		return Token{}, false, fmt.Errorf("looking up token: %w", err)
	}

	t, ok := doc[id]
	if !ok || t.Expired(m.now()) {
		return Token{}, false, nil
	}
	t.ID = id
	return t, true, nil
}

// Consume removes the pending token id, returning it as it was before
// removal. An absent or expired token yields ErrTokenNotFound. Expired
// entries are purged in the same write.
func (m *Manager) Consume(ctx context.Context, id string) (Token, error) {
	now := m.now()

	var consumed Token
	var found bool
	var doc tokenDocument
	err := m.store.Update(ctx, store.Tokens, &doc, func() (bool, error) {
		purged := purge(doc, now)
		consumed, found = doc[id]
		if found {
			delete(doc, id)
		}
		return found || purged > 0, nil
	})
	if err != nil {
		return Token{}, fmt.Errorf("consuming token: %w", err)
	}
	if !found {
		return Token{}, ErrTokenNotFound
	}

	consumed.ID = id
	m.logger.Info("token consumed", "token", Fingerprint(id))
	return consumed, nil
}

// PurgeExpired removes every expired token and returns how many it removed.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	now := m.now()

	var purged int
	var doc tokenDocument
	err := m.store.Update(ctx, store.Tokens, &doc, func() (bool, error) {
		purged = purge(doc, now)
		return purged > 0, nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging tokens: %w", err)
	}
	return purged, nil
}

// List returns every pending, unexpired token.
func (m *Manager) List(ctx context.Context) ([]Token, error) {
	var doc tokenDocument
	if err := m.store.Load(ctx, store.Tokens, &doc); err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}

	now := m.now()
	tokens := make([]Token, 0, len(doc))
	for id, t := range doc {
		if t.Expired(now) {
			continue
		}
		t.ID = id
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// PermissionLevelFor resolves the access level of token: the master token
// is MasterPermissionLevel, a pending token carries its issued level, and a
// promoted token carries its device's level. Anything else is NoAccess.
// A non-nil error means a document could not be read; the level is then
// NoAccess as well.
func (m *Manager) PermissionLevelFor(ctx context.Context, token string) (int, error) {
	if m.IsMaster(token) {
		return MasterPermissionLevel, nil
	}

	t, ok, err := m.Lookup(ctx, token)
	if err != nil {
		return NoAccess, err
	}
	if ok {
		return t.PermissionLevel, nil
	}

	if m.devices == nil {
		return NoAccess, nil
	}
	level, ok, err := m.devices.PermissionLevel(ctx, token)
	if err != nil {
		return NoAccess, fmt.Errorf("resolving device permission: %w", err)
	}
	if !ok {
		return NoAccess, nil
	}
	return level, nil
}

// purge deletes entries of doc that are expired at now and returns the count.
func purge(doc tokenDocument, now time.Time) int {
	n := 0
	for id, t := range doc {
		if t.Expired(now) {
			delete(doc, id)
			n++
		}
	}
	return n
}
