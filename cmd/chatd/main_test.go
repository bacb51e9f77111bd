package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomcast/internal/server"
)

func TestFlushMemoryStore(t *testing.T) {
	code := execute([]string{"flush", "--store", "memory", "--log-level", "disabled"})
	assert.Equal(t, 0, code)
}

func TestConfigFileIsRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: memory\nhistory:\n  limit: 20\nlog:\n  level: disabled\n"), 0o600))

	a := &app{}
	cmd, err := newRootCmd(a)
	require.NoError(t, err)
	cmd.SetArgs([]string{"flush", "--config", path})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, server.StoreBackendMemory, a.cfg.Store)
	assert.Equal(t, 20, a.cfg.History.Limit)
}

func TestFlagsOverrideConfig(t *testing.T) {
	a := &app{}
	cmd, err := newRootCmd(a)
	require.NoError(t, err)
	cmd.SetArgs([]string{"flush", "--store", "memory", "--redis-port", "6380", "--log-level", "disabled"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, 6380, a.cfg.Redis.Port)
}

func TestMissingConfigFileFails(t *testing.T) {
	code := execute([]string{"flush", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--log-level", "disabled"})
	assert.Equal(t, 1, code)
}

func TestServeRefusesToStartWithoutStore(t *testing.T) {
	code := execute([]string{"serve", "--redis-host", "127.0.0.1", "--redis-port", "1", "--log-level", "disabled"})
	assert.Equal(t, 1, code)
}
