package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Point at an absent config file so only defaults apply.
	t.Setenv("SHELFWATCH_CONFIG", filepath.Join(t.TempDir(), "config.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-flash", cfg.Vision.Model)
	require.Equal(t, "imagen-3.0-generate-002", cfg.Vision.ImageModel)
	require.Equal(t, "GEMINI_API_KEY", cfg.Vision.APIKeyEnv)
	require.Equal(t, 30, cfg.Agent.ScanIntervalSeconds)
	require.Equal(t, 5, cfg.Agent.CaptureRetrySeconds)
	require.Contains(t, cfg.Storage.Path, "shelfwatch.db")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
path = "/tmp/custom.db"

[agent]
scan_interval_seconds = 90
`), 0o644))
	t.Setenv("SHELFWATCH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Storage.Path)
	require.Equal(t, 90, cfg.Agent.ScanIntervalSeconds)
	require.Equal(t, 5, cfg.Agent.CaptureRetrySeconds, "unset keys keep defaults")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("SHELFWATCH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	cfg.Agent.ScanIntervalSeconds = 120
	cfg.Camera.SpoolDir = "/tmp/frames"
	require.NoError(t, Save(cfg))

	got, err := Load()
	require.NoError(t, err)
	require.Equal(t, 120, got.Agent.ScanIntervalSeconds)
	require.Equal(t, "/tmp/frames", got.Camera.SpoolDir)
}
