package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SYNC_INTERVAL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 500, cfg.Sync.KeepCount)
	assert.Equal(t, 2, cfg.Integrity.MissingThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Integrity.Cooldown)
	assert.Equal(t, 5*time.Minute, cfg.Sync.ReconcileWindow)
}

func TestLoadOverlayAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	overlay := "sync_keep_count: 42\nsync_local_sources:\n  - desk\n  - phone\nintegrity_cooldown: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(overlay), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("INTEGRITY_COOLDOWN", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Sync.KeepCount)
	assert.Equal(t, []string{"desk", "phone"}, cfg.Sync.LocalSources)
	assert.Equal(t, 2*time.Minute, cfg.Integrity.Cooldown, "environment wins over overlay")
}

func TestLoadRejectsBrokenOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_keep_count: [unclosed"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
