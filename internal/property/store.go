package property

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// MaxKeyLength bounds property keys.
const MaxKeyLength = 256

// Logger defines the logging interface used by the Store.
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

// DeviceIndex answers which devices exist. It is implemented by the device
// registry.
type DeviceIndex interface {
	Tokens(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, token string) (bool, error)
}

// Bag is one device's properties.
type Bag map[string]any

// propertyDocument maps device tokens to their bags.
type propertyDocument map[string]Bag

// Store reads and writes device properties.
type Store struct {
	store   *store.Store
	devices DeviceIndex
	logger  Logger
}

// NewStore creates a property store. With a nil devices index Set accepts
// any token and GetAll only reports devices that have a bag.
func NewStore(st *store.Store, devices DeviceIndex) *Store {
	return &Store{store: st, devices: devices, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Set upserts key in the device's bag, creating the bag if needed.
func (s *Store) Set(ctx context.Context, token, key string, value any) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	if s.devices != nil {
		ok, err := s.devices.Exists(ctx, token)
		if err != nil {
			return fmt.Errorf("setting property: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: device %s", ErrNotFound, auth.Fingerprint(token))
		}
	}

	var doc propertyDocument
	err := s.store.Update(ctx, store.Properties, &doc, func() (bool, error) {
		if doc == nil {
			doc = make(propertyDocument)
		}
		bag := doc[token]
		if bag == nil {
			bag = make(Bag)
			doc[token] = bag
		}
		bag[key] = value
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("setting property: %w", err)
	}

	// A Remove that committed between the check above and the write has
	// already run its cascade, so the bag just written would outlive the
	// device. Look again and take it back out.
	if s.devices != nil {
		ok, err := s.devices.Exists(ctx, token)
		if err != nil {
			return fmt.Errorf("confirming device: %w", err)
		}
		if !ok {
			if err := s.RemoveDevice(ctx, token); err != nil {
				return fmt.Errorf("undoing property for removed device: %w", err)
			}
			s.logger.Warn("device removed during property set", "device", auth.Fingerprint(token), "key", key)
			return fmt.Errorf("%w: device %s", ErrNotFound, auth.Fingerprint(token))
		}
	}

	s.logger.Debug("property set", "device", auth.Fingerprint(token), "key", key)
	return nil
}

// Get returns the value of key for a device. An unknown device or key is
// reported as ok=false, not as an error.
func (s *Store) Get(ctx context.Context, token, key string) (any, bool, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[token][key]
	return v, ok, nil
}

// All returns a copy of the device's whole bag; empty if it has none.
func (s *Store) All(ctx context.Context, token string) (Bag, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	bag := doc[token]
	if bag == nil {
		bag = Bag{}
	}
	return bag, nil
}

// GetAll collects key across every registered device. Devices without the
// key map to nil. This is one read per document, but the result grows with
// the number of devices.
func (s *Store) GetAll(ctx context.Context, key string) (map[string]any, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	if s.devices == nil {
		for token, bag := range doc {
			if v, ok := bag[key]; ok {
				out[token] = v
			}
		}
		return out, nil
	}

	tokens, err := s.devices.Tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	for _, token := range tokens {
		out[token] = doc[token][key]
	}
	return out, nil
}

// RemoveDevice deletes a device's bag. An absent bag is not an error.
func (s *Store) RemoveDevice(ctx context.Context, token string) error {
	var doc propertyDocument
	err := s.store.Update(ctx, store.Properties, &doc, func() (bool, error) {
		if _, ok := doc[token]; !ok {
			return false, nil
		}
		delete(doc, token)
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("removing properties: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) (propertyDocument, error) {
	var doc propertyDocument
	if err := s.store.Load(ctx, store.Properties, &doc); err != nil {
		return nil, fmt.Errorf("loading properties: %w", err)
	}
	return doc, nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	}
	return nil
}
