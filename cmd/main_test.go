package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestCheckConfig(t *testing.T) {
	t.Setenv("RELAY_SERVER_URL", "ws://localhost:8765/ws")
	t.Setenv("PRIORITY_ONLY", "true")

	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	require.NoError(t, app.Run([]string{"notification-relay", "check-config", "--env-file", ""}))

	assert.Contains(t, out.String(), "server:     ws://localhost:8765/ws (windows_notifier/2.1.0)")
	assert.Contains(t, out.String(), "priority_only=true")
	assert.Contains(t, out.String(), "journal:    false")
}

func TestCheckConfig_Invalid(t *testing.T) {
	t.Setenv("RELAY_SERVER_URL", "")

	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run([]string{"notification-relay", "check-config", "--env-file", ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_SERVER_URL")
}
