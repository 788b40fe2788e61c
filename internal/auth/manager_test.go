package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-registry/internal/store"
)

const testMaster = "master-token-that-is-at-least-32-chars"

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

type fakeDevices map[string]int

func (f fakeDevices) PermissionLevel(_ context.Context, token string) (int, bool, error) {
	level, ok := f[token]
	return level, ok, nil
}

type failingDevices struct{}

func (failingDevices) PermissionLevel(context.Context, string) (int, bool, error) {
	return 0, false, store.ErrUnavailable
}

func newTestManager(t *testing.T) (*Manager, *fakeClock, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := store.NewFileBackend(dir, 10*time.Second)
	require.NoError(t, err)
	st, err := store.New(backend, store.Options{})
	require.NoError(t, err)
	_, err = st.Init(context.Background())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(st, Options{MasterToken: testMaster})
	m.SetClock(clock.Now)
	return m, clock, dir
}

func TestIssue_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	issued, err := m.Issue(ctx, "tk-1", 2)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(DefaultTTL), issued.ValidUntil)

	clock.Advance(119 * time.Second)
	valid, err := m.IsValid(ctx, "tk-1")
	require.NoError(t, err)
	assert.True(t, valid, "token must be valid at T+119s")

	clock.Advance(2 * time.Second)
	valid, err = m.IsValid(ctx, "tk-1")
	require.NoError(t, err)
	assert.False(t, valid, "token must be invalid at T+121s")
}

func TestIssue_ValidAtExactExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	_, err := m.Issue(ctx, "tk", 1)
	require.NoError(t, err)

	clock.Advance(DefaultTTL)
	valid, err := m.IsValid(ctx, "tk")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestIssue_CustomTTL(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)
	m.ttl = 10 * time.Second
	assert.Equal(t, 10*time.Second, m.TTL())

	_, err := m.Issue(ctx, "tk", 1)
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	valid, err := m.IsValid(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIssue_Validation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	tests := []struct {
		name    string
		id      string
		level   int
		wantErr error
	}{
		{name: "empty id", id: "", level: 1, wantErr: ErrInvalidTokenID},
		{name: "whitespace id", id: "a b", level: 1, wantErr: ErrInvalidTokenID},
		{name: "control char", id: "a\x00b", level: 1, wantErr: ErrInvalidTokenID},
		{name: "oversized id", id: string(make([]byte, MaxTokenIDLength+1)), level: 1, wantErr: ErrInvalidTokenID},
		{name: "master token", id: testMaster, level: 1, wantErr: ErrInvalidTokenID},
		{name: "negative level", id: "tk", level: -1, wantErr: ErrInvalidPermissionLevel},
		{name: "master level", id: "tk", level: MasterPermissionLevel, wantErr: ErrInvalidPermissionLevel},
		{name: "lowest level", id: "tk", level: NoAccess},
		{name: "highest level", id: "tk", level: MaxIssuableLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Issue(ctx, tt.id, tt.level)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIssue_ReissueRefreshes(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	_, err := m.Issue(ctx, "tk", 1)
	require.NoError(t, err)
	clock.Advance(100 * time.Second)
	_, err = m.Issue(ctx, "tk", 3)
	require.NoError(t, err)
	clock.Advance(100 * time.Second)

	tok, ok, err := m.Lookup(ctx, "tk")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, tok.PermissionLevel)
	assert.Equal(t, "tk", tok.ID)
}

func TestIssue_PurgesExpired(t *testing.T) {
	ctx := context.Background()
	m, clock, dir := newTestManager(t)

	_, err := m.Issue(ctx, "old", 1)
	require.NoError(t, err)
	clock.Advance(3 * time.Minute)
	_, err = m.Issue(ctx, "new", 1)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "tokens.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"old"`)
	assert.Contains(t, string(data), `"new"`)
}

func TestIsValid_UnknownToken(t *testing.T) {
	m, _, _ := newTestManager(t)

	valid, err := m.IsValid(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestIsValid_SweepRemovesFromPermissionLookup(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	_, err := m.Issue(ctx, "tk", 3)
	require.NoError(t, err)
	level, err := m.PermissionLevelFor(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, 3, level)

	clock.Advance(DefaultTTL + time.Second)
	valid, err := m.IsValid(ctx, "tk")
	require.NoError(t, err)
	assert.False(t, valid)

	level, err = m.PermissionLevelFor(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, NoAccess, level)

	tokens, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestIsValid_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	m, _, dir := newTestManager(t)
	require.NoError(t, os.Remove(filepath.Join(dir, "tokens.json")))

	_, err := m.IsValid(ctx, "tk")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	_, err = m.Issue(ctx, "tk", 1)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	_, err := m.Issue(ctx, "tk", 2)
	require.NoError(t, err)

	tok, err := m.Consume(ctx, "tk")
	require.NoError(t, err)
	assert.Equal(t, "tk", tok.ID)
	assert.Equal(t, 2, tok.PermissionLevel)

	_, err = m.Consume(ctx, "tk")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = m.Issue(ctx, "late", 2)
	require.NoError(t, err)
	clock.Advance(DefaultTTL + time.Second)
	_, err = m.Consume(ctx, "late")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.Issue(ctx, fmt.Sprintf("tk-%d", i), 1)
		require.NoError(t, err)
	}
	clock.Advance(time.Minute)
	_, err := m.Issue(ctx, "fresh", 1)
	require.NoError(t, err)

	n, err := m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(90 * time.Second)
	n, err = m.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	tokens, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "fresh", tokens[0].ID)
}

func TestPermissionLevelFor(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)
	m.SetDevices(fakeDevices{"device-tk": 4})

	_, err := m.Issue(ctx, "pending-tk", 2)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{name: "master", token: testMaster, want: MasterPermissionLevel},
		{name: "pending token", token: "pending-tk", want: 2},
		{name: "promoted device", token: "device-tk", want: 4},
		{name: "unknown", token: "stranger", want: NoAccess},
		{name: "empty", token: "", want: NoAccess},
		{name: "master prefix", token: testMaster[:10], want: NoAccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.PermissionLevelFor(ctx, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPermissionLevelFor_DeviceError(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetDevices(failingDevices{})

	level, err := m.PermissionLevelFor(context.Background(), "tk")
	assert.True(t, errors.Is(err, store.ErrUnavailable))
	assert.Equal(t, NoAccess, level)
}

func TestIsMaster_Disabled(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.master = nil

	assert.False(t, m.IsMaster(""))
	assert.False(t, m.IsMaster(testMaster))
}

func TestIssue_ConcurrentDisjointTokens(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Issue(ctx, fmt.Sprintf("tk-%02d", i), i%5)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	tokens, err := m.List(ctx)
	require.NoError(t, err)
	assert.Len(t, tokens, n)
	for i := 0; i < n; i++ {
		valid, err := m.IsValid(ctx, fmt.Sprintf("tk-%02d", i))
		require.NoError(t, err)
		assert.True(t, valid)
	}
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("secret-token")
	assert.Len(t, fp, 12)
	assert.Equal(t, fp, Fingerprint("secret-token"))
	assert.NotEqual(t, fp, Fingerprint("secret-token2"))
	assert.NotContains(t, fp, "secret")
}

func TestGenerateTokenID(t *testing.T) {
	a, b := GenerateTokenID(), GenerateTokenID()
	assert.NotEqual(t, a, b)
	assert.NoError(t, ValidateTokenID(a))
}

func TestSetLogger_NilFallsBackToNoop(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetLogger(nil)

	assert.NotPanics(t, func() {
		_, err := m.Issue(context.Background(), "tk", 1)
		require.NoError(t, err)
	})
}
