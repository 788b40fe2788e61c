package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-registry/internal/auth"
	"github.com/nerrad567/gray-logic-registry/internal/store"
)

// runCLI runs registryctl against dir and returns stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--dir", dir}, args...)
	err := run(context.Background(), full, &stdout, &stderr)
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, args...)
	require.NoError(t, err, "registryctl %v", args)
	return out
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	err := run(context.Background(), nil, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage, "no command")
	assert.Contains(t, stderr.String(), "Commands:")

	err = run(context.Background(), []string{"--dir", t.TempDir(), "frobnicate"}, &stdout, &stderr)
	assert.ErrorIs(t, err, errUsage, "unknown command")

	assert.NoError(t, run(context.Background(), []string{"--help"}, &stdout, &stderr))
}

func TestRun_MissingDocumentsBeforeInit(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "devices")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestRun_Init(t *testing.T) {
	dir := t.TempDir()

	out := mustRunCLI(t, dir, "init")
	for _, name := range []string{"tokens", "devices", "properties", "instants"} {
		assert.Contains(t, out, name)
	}

	out = mustRunCLI(t, dir, "init")
	assert.Contains(t, out, "all documents present")
}

func TestRun_DeviceLifecycle(t *testing.T) {
	dir := t.TempDir()
	mustRunCLI(t, dir, "init")

	out := mustRunCLI(t, dir, "issue", "--id", "panel-token", "--level", "2")
	assert.Contains(t, out, "panel-token", "issue prints the raw token")

	out = mustRunCLI(t, dir, "tokens")
	assert.NotContains(t, out, "panel-token", "tokens prints fingerprints by default")
	assert.Contains(t, out, auth.Fingerprint("panel-token"))
	assert.Contains(t, mustRunCLI(t, dir, "--reveal", "tokens"), "panel-token")

	mustRunCLI(t, dir, "promote", "--token", "panel-token", "--name", "Hall panel", "--kind", "web", "--level", "2")

	out = mustRunCLI(t, dir, "--json", "--reveal", "devices")
	var devices []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &devices), out)
	require.Len(t, devices, 1)
	assert.Equal(t, "panel-token", devices[0]["token"])
	assert.Equal(t, "Hall panel", devices[0]["name"])
	assert.Equal(t, "green", devices[0]["status"])

	// The token is consumed by promotion.
	assert.NotContains(t, mustRunCLI(t, dir, "--reveal", "tokens"), "panel-token")

	mustRunCLI(t, dir, "props", "set", "panel-token", "room", "kitchen")
	mustRunCLI(t, dir, "props", "set", "panel-token", "brightness", "70")

	out = mustRunCLI(t, dir, "props", "get", "panel-token", "room")
	assert.Equal(t, `"kitchen"`, strings.TrimSpace(out))

	var bag map[string]any
	require.NoError(t, json.Unmarshal([]byte(mustRunCLI(t, dir, "props", "all", "panel-token")), &bag))
	assert.Equal(t, float64(70), bag["brightness"])

	var found map[string]any
	require.NoError(t, json.Unmarshal([]byte(mustRunCLI(t, dir, "--reveal", "props", "find", "room")), &found))
	assert.Equal(t, "kitchen", found["panel-token"])

	out = mustRunCLI(t, dir, "--json", "instants", "scan")
	assert.Equal(t, "[]", strings.TrimSpace(out))

	assert.Contains(t, mustRunCLI(t, dir, "remove", "panel-token"), "removed")
	assert.Contains(t, mustRunCLI(t, dir, "remove", "panel-token"), "no device")

	_, err := runCLI(t, dir, "props", "get", "panel-token", "room")
	assert.Error(t, err, "property should be gone after remove")

	out = mustRunCLI(t, dir, "--json", "devices")
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRun_PromoteValidation(t *testing.T) {
	dir := t.TempDir()
	mustRunCLI(t, dir, "init")

	tests := []struct {
		name string
		args []string
	}{
		{"missing token", []string{"promote", "--kind", "web"}},
		{"missing kind", []string{"promote", "--token", "x"}},
		{"bad kind", []string{"promote", "--token", "x", "--kind", "toaster"}},
		{"unknown flag", []string{"promote", "--colour", "red"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, dir, tt.args...)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRun_SweepEmpty(t *testing.T) {
	dir := t.TempDir()
	mustRunCLI(t, dir, "init")

	assert.Contains(t, mustRunCLI(t, dir, "sweep"), "0 device(s) changed, 0 token(s) expired")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{`"kitchen"`, "kitchen"},
		{"kitchen", "kitchen"},
		{"70", float64(70)},
		{"true", true},
		{`{"on":true}`, map[string]any{"on": true}},
		{"null", nil},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseValue(tt.raw), "parseValue(%q)", tt.raw)
	}
}
