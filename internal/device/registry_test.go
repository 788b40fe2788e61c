package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingCascade struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (c *recordingCascade) RemoveDevice(_ context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, token)
	return c.err
}

type statusEvent struct {
	token    string
	previous Status
	current  Status
}

type recordingObserver struct {
	mu     sync.Mutex
	events []statusEvent
}

func (o *recordingObserver) DeviceStatusChanged(d Device, previous Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, statusEvent{token: d.Token, previous: previous, current: d.Status})
}

// failingConsumer reports tokens valid but fails to consume them.
type failingConsumer struct {
	err error
}

func (f failingConsumer) IsValid(context.Context, string) (bool, error) { return true, nil }

func (f failingConsumer) Consume(context.Context, string) (auth.Token, error) {
	return auth.Token{}, f.err
}

type fixture struct {
	registry *Registry
	tokens   *auth.Manager
	clock    *fakeClock
	cascade  *recordingCascade
	observer *recordingObserver
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	backend, err := store.NewFileBackend(dir, 10*time.Second)
	require.NoError(t, err)
	st, err := store.New(backend, store.Options{})
	require.NoError(t, err)
	_, err = st.Init(context.Background())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens := auth.NewManager(st, auth.Options{})
	tokens.SetClock(clock.Now)

	reg := NewRegistry(st, tokens, Options{})
	reg.SetClock(clock.Now)
	cascade := &recordingCascade{}
	reg.SetCascades(cascade)
	observer := &recordingObserver{}
	reg.SetObserver(observer)
	tokens.SetDevices(reg)

	return &fixture{registry: reg, tokens: tokens, clock: clock, cascade: cascade, observer: observer, dir: dir}
}

func (f *fixture) promote(t *testing.T, token, name string, level int) Device {
	t.Helper()
	ctx := context.Background()
	_, err := f.tokens.Issue(ctx, token, level)
	require.NoError(t, err)
	d, err := f.registry.Promote(ctx, PromoteRequest{
		Token:           token,
		IP:              "192.168.1.20",
		Name:            name,
		Kind:            KindApp,
		Connection:      "wifi",
		PermissionLevel: level,
	})
	require.NoError(t, err)
	return d
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("web")
	require.NoError(t, err)
	assert.Equal(t, KindWeb, k)

	_, err = ParseKind("desktop")
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestPromote_IsExclusive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d := f.promote(t, "tk", "Kitchen panel", 3)
	assert.Equal(t, StatusGreen, d.Status)
	assert.Equal(t, f.clock.Now(), d.LastActive)
	assert.Equal(t, "tk", d.Token)

	valid, err := f.tokens.IsValid(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, valid, "promoted token must no longer be pending")

	level, err := f.tokens.PermissionLevelFor(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, 3, level)

	got, ok, err := f.registry.Get(ctx, "tk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, got)

	require.Len(t, f.observer.events, 1)
	assert.Equal(t, statusEvent{token: "tk", previous: "", current: StatusGreen}, f.observer.events[0])
}

func TestPromote_OutlivesTokenTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 2)

	f.clock.Advance(time.Hour)
	level, err := f.tokens.PermissionLevelFor(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, 2, level)
}

func TestPromote_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tokens.Issue(ctx, "pending", 1)
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     PromoteRequest
		wantErr error
	}{
		{name: "unknown token", req: PromoteRequest{Token: "nobody", Kind: KindApp}, wantErr: ErrTokenNotPending},
		{name: "bad kind", req: PromoteRequest{Token: "pending", Kind: "tv"}, wantErr: ErrInvalidKind},
		{name: "bad level", req: PromoteRequest{Token: "pending", Kind: KindWeb, PermissionLevel: 5}, wantErr: auth.ErrInvalidPermissionLevel},
		{name: "empty token", req: PromoteRequest{Kind: KindWeb}, wantErr: auth.ErrInvalidTokenID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.Promote(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	devices, err := f.registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestPromote_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.tokens.Issue(ctx, "tk", 1)
	require.NoError(t, err)
	f.clock.Advance(auth.DefaultTTL + time.Second)

	_, err = f.registry.Promote(ctx, PromoteRequest{Token: "tk", Kind: KindApp, PermissionLevel: 1})
	assert.ErrorIs(t, err, ErrTokenNotPending)
}

func TestPromote_Twice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 1)

	_, err := f.registry.Promote(ctx, PromoteRequest{Token: "tk", Kind: KindApp, PermissionLevel: 1})
	assert.ErrorIs(t, err, ErrTokenNotPending)

	// Re-issuing the same id does not allow a second device record.
	_, err = f.tokens.Issue(ctx, "tk", 1)
	require.NoError(t, err)
	_, err = f.registry.Promote(ctx, PromoteRequest{Token: "tk", Kind: KindApp, PermissionLevel: 1})
	assert.ErrorIs(t, err, ErrDeviceExists)
}

func TestPromote_UndoesDeviceWhenConsumeFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	boom := errors.New("disk on fire")
	f.registry.tokens = failingConsumer{err: boom}

	_, err := f.registry.Promote(ctx, PromoteRequest{Token: "tk", Kind: KindApp, PermissionLevel: 1})
	assert.ErrorIs(t, err, boom)

	exists, err := f.registry.Exists(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, f.observer.events)
}

func TestPromote_ConsumeRaceReportsNotPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registry.tokens = failingConsumer{err: auth.ErrTokenNotFound}

	_, err := f.registry.Promote(ctx, PromoteRequest{Token: "tk", Kind: KindApp, PermissionLevel: 1})
	assert.ErrorIs(t, err, ErrTokenNotPending)
}

func TestRemove_Cascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 1)

	found, err := f.registry.Remove(ctx, "tk")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"tk"}, f.cascade.removed)

	exists, err := f.registry.Exists(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, exists)

	level, err := f.tokens.PermissionLevelFor(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, auth.NoAccess, level)
}

func TestRemove_AbsentDeviceStillCascades(t *testing.T) {
	f := newFixture(t)

	found, err := f.registry.Remove(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"ghost"}, f.cascade.removed)
}

func TestRemove_CascadeFailureIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 1)

	boom := errors.New("instants unavailable")
	failing := &recordingCascade{err: boom}
	later := &recordingCascade{}
	f.registry.SetCascades(failing, later)

	found, err := f.registry.Remove(ctx, "tk")
	assert.ErrorIs(t, err, boom)
	assert.True(t, found)
	assert.Equal(t, []string{"tk"}, later.removed, "a failing cascade must not stop the others")

	exists, err := f.registry.Exists(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHeartbeat_StateMachine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 1)

	// Still fresh: no-contact check is a no-op.
	f.clock.Advance(10 * time.Second)
	status, err := f.registry.Heartbeat(ctx, "tk", false)
	require.NoError(t, err)
	assert.Equal(t, StatusGreen, status)

	// Exactly at the threshold is still healthy.
	f.clock.Advance(10 * time.Second)
	status, err = f.registry.Heartbeat(ctx, "tk", false)
	require.NoError(t, err)
	assert.Equal(t, StatusGreen, status)

	f.clock.Advance(5 * time.Second)
	status, err = f.registry.Heartbeat(ctx, "tk", false)
	require.NoError(t, err)
	assert.Equal(t, StatusRed, status)

	// Red stays red without contact.
	f.clock.Advance(time.Minute)
	status, err = f.registry.Heartbeat(ctx, "tk", false)
	require.NoError(t, err)
	assert.Equal(t, StatusRed, status)

	status, err = f.registry.Heartbeat(ctx, "tk", true)
	require.NoError(t, err)
	assert.Equal(t, StatusGreen, status)

	d, _, err := f.registry.Get(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), d.LastActive)

	require.Len(t, f.observer.events, 3)
	assert.Equal(t, statusEvent{token: "tk", previous: StatusGreen, current: StatusRed}, f.observer.events[1])
	assert.Equal(t, statusEvent{token: "tk", previous: StatusRed, current: StatusGreen}, f.observer.events[2])
}

func TestHeartbeat_SilentFor25Seconds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk", "Panel", 1)
	f.clock.Advance(25 * time.Second)

	status, err := f.registry.Heartbeat(ctx, "tk", false)
	require.NoError(t, err)
	assert.Equal(t, StatusRed, status)
}

func TestHeartbeat_UnknownDevice(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Heartbeat(context.Background(), "ghost", true)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestHeartbeat_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.dir, "devices.json")))

	_, err := f.registry.Heartbeat(context.Background(), "tk", true)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSweepLiveness(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "old-a", "A", 1)
	f.promote(t, "old-b", "B", 1)
	f.clock.Advance(15 * time.Second)
	f.promote(t, "fresh", "C", 1)
	f.clock.Advance(10 * time.Second)

	turned, err := f.registry.SweepLiveness(ctx)
	require.NoError(t, err)
	require.Len(t, turned, 2)
	assert.Equal(t, "old-a", turned[0].Token)
	assert.Equal(t, "old-b", turned[1].Token)

	turned, err = f.registry.SweepLiveness(ctx)
	require.NoError(t, err)
	assert.Empty(t, turned, "red devices are not reported again")

	fresh, _, err := f.registry.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusGreen, fresh.Status)
}

func TestListAndTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.promote(t, "tk-2", "Bedroom", 1)
	f.promote(t, "tk-1", "Attic", 2)

	devices, err := f.registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "Attic", devices[0].Name)
	assert.Equal(t, "Bedroom", devices[1].Name)

	tokens, err := f.registry.Tokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tk-1", "tk-2"}, tokens)

	level, ok, err := f.registry.PermissionLevel(ctx, "tk-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, level)

	_, ok, err = f.registry.PermissionLevel(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetLogger_NilFallsBackToNoop(t *testing.T) {
	f := newFixture(t)
	f.registry.SetLogger(nil)

	assert.NotPanics(t, func() {
		f.promote(t, "tk", "Panel", 1)
		_, err := f.registry.Remove(context.Background(), "tk")
		require.NoError(t, err)
	})
}
