package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 4000, "refresh_rate_hz": 30, "shutdown_timeout": "2s"}`), 0o600))

	require.NoError(t, flag.Set("config", path))
	require.NoError(t, flag.Set("rate", "25"))
	require.NoError(t, flag.Set("dev", "true"))

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.GetPort(), "unset flags keep file values")
	assert.Equal(t, 25, cfg.GetRefreshRateHz())
	assert.True(t, cfg.GetSynthetic())
	assert.Equal(t, 2*time.Second, cfg.GetShutdownTimeout())
	assert.Empty(t, cfg.GetHealthListen())

	require.NoError(t, flag.Set("rate", "-1"))
	_, err = loadConfig()
	assert.Error(t, err)
}
