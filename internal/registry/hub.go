package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/device"
	"github.com/nerrad567/gray-logic-registry/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-registry/internal/instant"
	"github.com/nerrad567/gray-logic-registry/internal/property"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// ErrForbidden is returned by Authorize when a token's level is too low.
var ErrForbidden = errors.New("registry: insufficient permission")

// Options configures a Hub.
type Options struct {
	TokenTTL    time.Duration
	StaleAfter  time.Duration
	MasterToken string
}

// Hub is the assembled registry.
type Hub struct {
	Store      *store.Store
	Tokens     *auth.Manager
	Devices    *device.Registry
	Properties *property.Store
	Instants   *instant.Channel
}

// New assembles the four components over st.
func New(st *store.Store, opts Options) *Hub {
	tokens := auth.NewManager(st, auth.Options{TTL: opts.TokenTTL, MasterToken: opts.MasterToken})
	devices := device.NewRegistry(st, tokens, device.Options{StaleAfter: opts.StaleAfter})
	props := property.NewStore(st, devices)
	instants := instant.NewChannel(st, devices)

	tokens.SetDevices(devices)
	devices.SetCascades(props, instants)

	return &Hub{
		Store:      st,
		Tokens:     tokens,
		Devices:    devices,
		Properties: props,
		Instants:   instants,
	}
}

// SetLogger gives every component a logger tagged with its component name.
func (h *Hub) SetLogger(logger *logging.Logger) {
	h.Store.SetLogger(logger.With("component", "store"))
	h.Tokens.SetLogger(logger.With("component", "auth"))
	h.Devices.SetLogger(logger.With("component", "device"))
	h.Properties.SetLogger(logger.With("component", "property"))
	h.Instants.SetLogger(logger.With("component", "instant"))
}

// SetClock replaces the time source of every component. Intended for tests.
func (h *Hub) SetClock(now func() time.Time) {
	h.Tokens.SetClock(now)
	h.Devices.SetClock(now)
	h.Instants.SetClock(now)
}

// Authorize resolves token and checks it holds at least the required level.
// It returns the resolved level. A store failure is returned as-is; callers
// should treat it as a denial.
func (h *Hub) Authorize(ctx context.Context, token string, required int) (int, error) {
	level, err := h.Tokens.PermissionLevelFor(ctx, token)
	if err != nil {
		return auth.NoAccess, fmt.Errorf("authorizing: %w", err)
	}
	if level < required {
		return level, fmt.Errorf("%w: have %d, need %d", ErrForbidden, level, required)
	}
	return level, nil
}
