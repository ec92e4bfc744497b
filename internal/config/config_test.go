package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	assert.False(t, m.Loaded())
	assert.Equal(t, Defaults(), m.Get())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "defaults must not be written implicitly")
}

func TestLoadYAMLKeepsDefaultsForAbsentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
history_size: 50
monitors: [DP-1, HDMI-A-1]
request_timeout: 500ms
notify: true
`), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Get()

	assert.True(t, m.Loaded())
	assert.Equal(t, 50, cfg.HistorySize)
	assert.Equal(t, []string{"DP-1", "HDMI-A-1"}, cfg.Monitors)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestTimeout)
	assert.True(t, cfg.Notify)
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.LeaseCheckInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	require.NoError(t, cfg.Validate())
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
history_size = 12
monitors = ["eDP-1"]
backend = "hyprland"
lease_check_interval = "5s"
diagnostics_addr = "127.0.0.1:7777"
`), 0o644))

	m, err := NewManager(path)
	require.NoError(t, err)
	cfg := m.Get()

	assert.Equal(t, 12, cfg.HistorySize)
	assert.Equal(t, []string{"eDP-1"}, cfg.Monitors)
	assert.Equal(t, "hyprland", cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.LeaseCheckInterval)
	assert.Equal(t, "127.0.0.1:7777", cfg.DiagnosticsAddr)
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("history_size: [oops"), 0o644))

	_, err := NewManager(path)
	assert.Error(t, err)
}

func TestSaveThenReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	m, err := NewManager(path)
	require.NoError(t, err)

	cfg := m.Get()
	cfg.HistorySize = 9
	cfg.Monitors = []string{"DP-2"}
	require.NoError(t, m.Update(cfg))
	require.NoError(t, m.Save())
	assert.True(t, m.Loaded())

	reloaded, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, m.Get(), reloaded.Get())
}

func TestGetReturnsCopy(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	cfg := m.Get()
	cfg.Monitors = append(cfg.Monitors, "X")
	cfg.HistorySize = 1
	assert.Empty(t, m.Get().Monitors)
	assert.Equal(t, 300, m.Get().HistorySize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"history size zero", func(c *Config) { c.HistorySize = 0 }, false},
		{"history size negative", func(c *Config) { c.HistorySize = -3 }, false},
		{"history size one", func(c *Config) { c.HistorySize = 1 }, true},
		{"unknown backend", func(c *Config) { c.Backend = "sway" }, false},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"blank monitor", func(c *Config) { c.Monitors = []string{" "} }, false},
		{"wildcard monitor", func(c *Config) { c.Monitors = []string{"DP-1", "*"} }, false},
		{"named monitors", func(c *Config) { c.Monitors = []string{"DP-1", "HDMI-A-1"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalid)
			}
		})
	}

	m, err := NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	bad := Defaults()
	bad.HistorySize = 0
	assert.ErrorIs(t, m.Update(bad), ErrInvalid)
}

func TestRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cfg := Defaults()
	assert.Equal(t, "/run/user/1000/focushist", cfg.ResolvedRuntimeDir())

	cfg.RuntimeDir = "/custom"
	assert.Equal(t, "/custom", cfg.ResolvedRuntimeDir())

	t.Setenv("XDG_RUNTIME_DIR", "")
	assert.Contains(t, DefaultRuntimeDir(), "focushist-")
}

func TestLogFileConfig(t *testing.T) {
	cfg := Defaults()
	assert.Empty(t, cfg.LogFileConfig().Path)

	cfg.LogFile = "/tmp/focushist.log"
	cfg.LogMaxBackups = 4
	fc := cfg.LogFileConfig()
	assert.Equal(t, "/tmp/focushist.log", fc.Path)
	assert.Equal(t, 4, fc.MaxBackups)
}
