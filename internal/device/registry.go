package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// DefaultStaleAfter is how long a device may stay silent before a
// no-contact check turns it red.
const DefaultStaleAfter = 20 * time.Second

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TokenSource is the pending-token side of promotion.
// It is implemented by auth.Manager.
type TokenSource interface {
	IsValid(ctx context.Context, id string) (bool, error)
	Consume(ctx context.Context, id string) (auth.Token, error)
}

// Cascade removes everything another document holds for a device.
// Implementations must treat an absent device as success.
type Cascade interface {
	RemoveDevice(ctx context.Context, token string) error
}

// StatusObserver is notified after a device's status has been persisted.
// previous is empty for a newly promoted device. Calls happen outside any
// document lock and must not block for long.
type StatusObserver interface {
	DeviceStatusChanged(d Device, previous Status)
}

// Options configures a Registry.
type Options struct {
	// StaleAfter is the silence allowed before a device turns red.
	// Zero selects DefaultStaleAfter.
	StaleAfter time.Duration
}

// Registry manages promoted devices.
//
// All public methods are thread-safe.
type Registry struct {
	store      *store.Store
	tokens     TokenSource
	cascades   []Cascade
	observer   StatusObserver
	staleAfter time.Duration
	now        func() time.Time
	logger     Logger
}

// NewRegistry creates a device registry over st, promoting tokens from tokens.
func NewRegistry(st *store.Store, tokens TokenSource, opts Options) *Registry {
	stale := opts.StaleAfter
	if stale <= 0 {
		stale = DefaultStaleAfter
	}
	return &Registry{
		store:      st,
		tokens:     tokens,
		staleAfter: stale,
		now:        time.Now,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// SetCascades sets the documents cleaned up when a device is removed.
func (r *Registry) SetCascades(cascades ...Cascade) {
	r.cascades = cascades
}

// SetObserver sets the receiver of status transitions.
func (r *Registry) SetObserver(o StatusObserver) {
	r.observer = o
}

// StaleAfter returns the configured silence threshold.
func (r *Registry) StaleAfter() time.Duration {
	return r.staleAfter
}

// Promote turns a valid pending token into a green device record and
// consumes the token.
//
// The device is written before the token is consumed. If consumption fails
// the device write is undone, so a failed Promote leaves no device behind.
// A crash between the two writes leaves both records until the token
// expires; the token cannot be promoted again meanwhile because the device
// already exists.
func (r *Registry) Promote(ctx context.Context, req PromoteRequest) (Device, error) {
	if err := auth.ValidateTokenID(req.Token); err != nil {
		return Device{}, err
	}
	if _, err := ParseKind(string(req.Kind)); err != nil {
		return Device{}, err
	}
	if err := auth.ValidatePermissionLevel(req.PermissionLevel); err != nil {
		return Device{}, err
	}

	pending, err := r.tokens.IsValid(ctx, req.Token)
	if err != nil {
		return Device{}, fmt.Errorf("promoting device: %w", err)
	}
	if !pending {
		return Device{}, ErrTokenNotPending
	}

	d := Device{
		Token:           req.Token,
		IP:              req.IP,
		Name:            req.Name,
		Kind:            req.Kind,
		Connection:      req.Connection,
		Status:          StatusGreen,
		LastActive:      r.now(),
		PermissionLevel: req.PermissionLevel,
	}

	var doc deviceDocument
	err = r.store.Update(ctx, store.Devices, &doc, func() (bool, error) {
		if _, exists := doc[d.Token]; exists {
			return false, ErrDeviceExists
		}
		if doc == nil {
			doc = make(deviceDocument)
		}
		doc[d.Token] = d
		return true, nil
	})
	if err != nil {
		return Device{}, fmt.Errorf("promoting device: %w", err)
	}

	if _, err := r.tokens.Consume(ctx, d.Token); err != nil {
		if uerr := r.deleteRecord(ctx, d.Token); uerr != nil {
			r.logger.Error("failed to undo device write after token consumption failed",
				"device", auth.Fingerprint(d.Token), "error", uerr)
		}
		if errors.Is(err, auth.ErrTokenNotFound) {
			return Device{}, ErrTokenNotPending
		}
		return Device{}, fmt.Errorf("promoting device: %w", err)
	}

	r.logger.Info("device promoted",
		"device", auth.Fingerprint(d.Token),
		"name", d.Name,
		"kind", d.Kind,
		"permission_level", d.PermissionLevel,
	)
	r.notify(d, "")
	return d, nil
}

// Remove deletes a device and cascades to every registered Cascade, and
// reports whether the device record was present.
//
// Cascades run even when the device record is already gone, so a partial
// earlier removal is completed. An absent device is not an error: the end
// state, no trace of the device in any document, is the same either way.
func (r *Registry) Remove(ctx context.Context, token string) (bool, error) {
	found, err := r.deleteRecordFound(ctx, token)
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("removing device: %w", err))
	}

	for _, c := range r.cascades {
		if cerr := c.RemoveDevice(ctx, token); cerr != nil {
			errs = append(errs, fmt.Errorf("removing device data: %w", cerr))
		}
	}

	if len(errs) > 0 {
		return found, errors.Join(errs...)
	}

	if found {
		r.logger.Info("device removed", "device", auth.Fingerprint(token))
	} else {
		r.logger.Debug("device already absent, cascades applied", "device", auth.Fingerprint(token))
	}
	return found, nil
}

// Heartbeat applies one liveness observation to a device and returns its
// resulting status.
//
// With madeContact, LastActive becomes now and the device turns green.
// Without it, a green device that has been silent for longer than
// StaleAfter turns red; otherwise nothing is written.
func (r *Registry) Heartbeat(ctx context.Context, token string, madeContact bool) (Status, error) {
	now := r.now()

	var before, after Device
	var doc deviceDocument
	err := r.store.Update(ctx, store.Devices, &doc, func() (bool, error) {
		d, ok := doc[token]
		if !ok {
			return false, ErrDeviceNotFound
		}
		before = d
		d.Token = token

		changed := false
		if madeContact {
			d.LastActive = now
			d.Status = StatusGreen
			changed = true
		} else if d.Status != StatusRed && d.Stale(now, r.staleAfter) {
			d.Status = StatusRed
			changed = true
		}

		after = d
		if changed {
			doc[token] = d
		}
		return changed, nil
	})
	if err != nil {
		return "", fmt.Errorf("heartbeat: %w", err)
	}

	if before.Status != after.Status {
		r.logger.Info("device status changed",
			"device", auth.Fingerprint(token),
			"from", before.Status,
			"to", after.Status,
		)
		r.notify(after, before.Status)
	}
	return after.Status, nil
}

// SweepLiveness applies the no-contact check to every device in one locked
// pass and returns the devices it turned red.
func (r *Registry) SweepLiveness(ctx context.Context) ([]Device, error) {
	now := r.now()

	var turned []Device
	var doc deviceDocument
	err := r.store.Update(ctx, store.Devices, &doc, func() (bool, error) {
		turned = turned[:0]
		for token, d := range doc {
			if d.Status == StatusRed || !d.Stale(now, r.staleAfter) {
				continue
			}
			d.Status = StatusRed
			doc[token] = d
			d.Token = token
			turned = append(turned, d)
		}
		return len(turned) > 0, nil
	})
	if err != nil {
		return nil, fmt.Errorf("liveness sweep: %w", err)
	}

	sortDevices(turned)
	for _, d := range turned {
		r.logger.Info("device status changed",
			"device", auth.Fingerprint(d.Token),
			"from", StatusGreen,
			"to", StatusRed,
		)
		r.notify(d, StatusGreen)
	}
	return turned, nil
}

// Get returns the device registered for token.
func (r *Registry) Get(ctx context.Context, token string) (Device, bool, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return Device{}, false, err
	}
	d, ok := doc[token]
	if !ok {
		return Device{}, false, nil
	}
	d.Token = token
	return d, true, nil
}

// List returns every device ordered by name, then token.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(doc))
	for token, d := range doc {
		d.Token = token
		devices = append(devices, d)
	}
	sortDevices(devices)
	return devices, nil
}

// Tokens returns the identity of every device, sorted.
func (r *Registry) Tokens(ctx context.Context) ([]string, error) {
	doc, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(doc))
	for token := range doc {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens, nil
}

// Exists reports whether a device is registered for token.
func (r *Registry) Exists(ctx context.Context, token string) (bool, error) {
	_, ok, err := r.Get(ctx, token)
	return ok, err
}

// PermissionLevel returns the permission level of the device registered
// for token. It satisfies auth.DeviceLookup.
func (r *Registry) PermissionLevel(ctx context.Context, token string) (int, bool, error) {
	d, ok, err := r.Get(ctx, token)
	if err != nil || !ok {
		return auth.NoAccess, false, err
	}
	return d.PermissionLevel, true, nil
}

func (r *Registry) load(ctx context.Context) (deviceDocument, error) {
	var doc deviceDocument
	if err := r.store.Load(ctx, store.Devices, &doc); err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	return doc, nil
}

func (r *Registry) deleteRecord(ctx context.Context, token string) error {
	_, err := r.deleteRecordFound(ctx, token)
	return err
}

func (r *Registry) deleteRecordFound(ctx context.Context, token string) (bool, error) {
	var found bool
	var doc deviceDocument
	err := r.store.Update(ctx, store.Devices, &doc, func() (bool, error) {
		_, found = doc[token]
		delete(doc, token)
		return found, nil
	})
	return found, err
}

func (r *Registry) notify(d Device, previous Status) {
	if r.observer != nil {
		r.observer.DeviceStatusChanged(d, previous)
	}
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].Token < devices[j].Token
	})
}
