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
	dir := t.TempDir()

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "shopsync.db"), cfg.DBPath)
	assert.Equal(t, ":7420", cfg.Listen)
	assert.Equal(t, 5*time.Second, cfg.AckTimeout)
	assert.Equal(t, 10*time.Second, cfg.FlushInterval)
	assert.Equal(t, 80, cfg.Image.MaxDimension)
	assert.Equal(t, 60, cfg.Image.Quality)
	assert.Empty(t, cfg.Log.File)
}

func TestLoadFileInDataDir(t *testing.T) {
	dir := t.TempDir()
	data := `
listen = "127.0.0.1:9000"
ack_timeout = "2s"

[image]
quality = 75
`
	require.NoError(t, os.WriteFile(Path(dir), []byte(data), 0o600))

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, 2*time.Second, cfg.AckTimeout)
	assert.Equal(t, 75, cfg.Image.Quality)
	assert.Equal(t, 80, cfg.Image.MaxDimension, "unset keys keep defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(Path(dir), []byte("listen = \":1\"\n"), 0o600))

	t.Setenv("SHOPSYNC_LISTEN", ":2")
	t.Setenv("SHOPSYNC_IMAGE_MAX_DIMENSION", "120")
	t.Setenv("SHOPSYNC_FLUSH_INTERVAL", "1m")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, ":2", cfg.Listen)
	assert.Equal(t, 120, cfg.Image.MaxDimension)
	assert.Equal(t, time.Minute, cfg.FlushInterval)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), t.TempDir())
	assert.Error(t, err)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("peer_url: ws://phone.local:7420/sync\nlog:\n  file: /tmp/s.log\n"), 0o600))

	cfg, err := Load(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://phone.local:7420/sync", cfg.PeerURL)
	assert.Equal(t, "/tmp/s.log", cfg.Log.File)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"quality too high":  func(c *Config) { c.Image.Quality = 101 },
		"quality zero":      func(c *Config) { c.Image.Quality = 0 },
		"no max dimension":  func(c *Config) { c.Image.MaxDimension = 0 },
		"zero ack timeout":  func(c *Config) { c.AckTimeout = 0 },
		"negative debounce": func(c *Config) { c.DebounceInterval = -time.Second },
		"no data dir":       func(c *Config) { c.DataDir = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default(t.TempDir()).Validate())
}

func TestWriteFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir)
	cfg.Listen = "0.0.0.0:7777"
	cfg.DebounceInterval = 500 * time.Millisecond
	cfg.Log.File = filepath.Join(dir, "shopsync.log")

	require.NoError(t, cfg.WriteFile(Path(dir), false))
	assert.Error(t, cfg.WriteFile(Path(dir), false), "existing file is not overwritten")
	require.NoError(t, cfg.WriteFile(Path(dir), true))

	got, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}
