package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10882, cfg.Helper.PortBase)
	assert.Equal(t, 10, cfg.Helper.PortRange)
	assert.False(t, cfg.Helper.PreferSystem)
	assert.Equal(t, 60, cfg.Boot.Timeout)
	assert.Equal(t, 300, cfg.Runner.DefaultTimeout)
	assert.Equal(t, 3600, cfg.Runner.MaxTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("helper:\n  port_base: 20000\nboot:\n  timeout: 90\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.Helper.PortBase)
	assert.Equal(t, 90, cfg.Boot.Timeout)
	assert.Equal(t, 10, cfg.Helper.PortRange) // untouched default
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MCP_SERVER_LOG", "debug")
	t.Setenv("HELPER_PORT_BASE", "15000")
	t.Setenv("HELPER_PREFER_SYSTEM", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 15000, cfg.Helper.PortBase)
	assert.True(t, cfg.Helper.PreferSystem)
}

func TestInvalidPortBaseEnv(t *testing.T) {
	t.Setenv("HELPER_PORT_BASE", "not-a-port")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cfg.Helper.PortBase = 0
	assert.Error(t, cfg.Validate())

	cfg.Helper.PortBase = 65530
	cfg.Helper.PortRange = 10
	assert.Error(t, cfg.Validate())
}
