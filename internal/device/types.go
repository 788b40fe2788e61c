package device

import (
	"fmt"
	"time"
)

// Kind identifies the client type of a device.
type Kind string

const (
	KindApp Kind = "app"
	KindWeb Kind = "web"
)

// ValidKinds lists every accepted kind.
var ValidKinds = []Kind{KindApp, KindWeb}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range ValidKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Status is the liveness state of a device.
type Status string

const (
	StatusGreen Status = "green"
	StatusRed   Status = "red"
)

// Device is a promoted token with its connection details and liveness.
type Device struct {
	// Token is the device's stable identity and the document key.
	Token string `json:"-"`

	IP         string `json:"ip"`
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Connection string `json:"connection"`

	Status     Status    `json:"status"`
	LastActive time.Time `json:"last_active"`

	PermissionLevel int `json:"permission_level"`
}

// Stale reports whether the device has been silent for longer than after.
func (d Device) Stale(now time.Time, after time.Duration) bool {
	return now.Sub(d.LastActive) > after
}

// PromoteRequest carries the details recorded when a token becomes a device.
type PromoteRequest struct {
	Token           string
	IP              string
	Name            string
	Kind            Kind
	Connection      string
	PermissionLevel int
}

// deviceDocument is the persisted form of the devices document.
type deviceDocument map[string]Device
