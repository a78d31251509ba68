package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SC_TEST_STR", " value ")
	t.Setenv("SC_TEST_INT", "42")
	t.Setenv("SC_TEST_BAD", "x")
	t.Setenv("SC_TEST_BOOL", "Yes")

	assert.Equal(t, "value", GetEnv("SC_TEST_STR", "fallback"))
	assert.Equal(t, "fallback", GetEnv("SC_TEST_UNSET", "fallback"))
	assert.Equal(t, 42, GetEnvInt("SC_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("SC_TEST_BAD", 1))
	assert.True(t, BoolEnv("SC_TEST_BOOL", false))
	assert.False(t, BoolEnv("SC_TEST_BAD", false))
	assert.Equal(t, 10, IntEnvClamped("SC_TEST_INT", 5, 0, 10))
	assert.Equal(t, 42, IntEnvClamped("SC_TEST_INT", 5, 10, 0), "inverted bounds disable clamping")
}

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"SCREENCAST_BUS", "SCREENCAST_OUTPUTS_FILE", "SCREENCAST_METRICS_ADDR",
		"SCREENCAST_MAX_SESSIONS", "SCREENCAST_MAX_STREAMS", "SCREENCAST_BUFFER_COUNT",
		"SCREENCAST_MAX_FPS", "SCREENCAST_CLOSE_GRACE_MS", "SCREENCAST_DEBUG",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg := FromEnv()
	assert.Equal(t, "session", cfg.Bus)
	assert.Equal(t, "outputs.toml", cfg.OutputsFile)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.Equal(t, 8, cfg.Core.MaxSessions)
	assert.Equal(t, 4, cfg.Core.MaxStreamsPerSession)
	assert.Equal(t, 3, cfg.Core.BufferCount)
	assert.EqualValues(t, 60, cfg.Core.MaxFPS)
	assert.Equal(t, 500*time.Millisecond, cfg.Core.CloseGrace)
	assert.False(t, cfg.Debug)
}

func TestFromEnvClamps(t *testing.T) {
	t.Setenv("SCREENCAST_BUS", "SYSTEM")
	t.Setenv("SCREENCAST_BUFFER_COUNT", "64")
	t.Setenv("SCREENCAST_MAX_FPS", "144")
	t.Setenv("SCREENCAST_METRICS_ADDR", "")
	t.Setenv("SCREENCAST_MAX_SESSIONS", "-3")

	cfg := FromEnv()
	assert.Equal(t, "system", cfg.Bus)
	assert.Equal(t, 8, cfg.Core.BufferCount)
	assert.EqualValues(t, 60, cfg.Core.MaxFPS)
	assert.Empty(t, cfg.MetricsAddr, "explicitly empty disables the HTTP listener")
	assert.Zero(t, cfg.Core.MaxSessions)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SC_TEST_DOTENV=from-file\nSC_TEST_KEEP=from-file\n"), 0o600))
	t.Setenv("SC_TEST_KEEP", "from-env")
	t.Setenv("SC_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("SC_TEST_DOTENV"))

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", os.Getenv("SC_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("SC_TEST_KEEP"))
	require.NoError(t, os.Unsetenv("SC_TEST_DOTENV"))

	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.env")))
}
