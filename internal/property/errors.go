package property

import "errors"

var (
	// ErrNotFound is returned when a mutation targets an unknown device.
	// Reads report absence as ok=false instead.
	ErrNotFound = errors.New("property: not found")

	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = errors.New("property: invalid key")

	// ErrInvalidValue is returned for values that cannot be stored as JSON.
	ErrInvalidValue = errors.New("property: invalid value")
)
