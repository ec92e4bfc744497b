package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/focushist/internal/history"
	"github.com/bryanchriswhite/focushist/internal/lease"
	"github.com/bryanchriswhite/focushist/internal/logger"
	"github.com/bryanchriswhite/focushist/internal/scope"
	"github.com/bryanchriswhite/focushist/internal/window"
)

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Config is the on-disk configuration of focushist
type Config struct {
	HistorySize int      `json:"history_size" yaml:"history_size" toml:"history_size" mapstructure:"history_size"`
	Monitors    []string `json:"monitors" yaml:"monitors" toml:"monitors" mapstructure:"monitors"`
	Backend     string   `json:"backend" yaml:"backend" toml:"backend" mapstructure:"backend"`
	RuntimeDir  string   `json:"runtime_dir,omitempty" yaml:"runtime_dir,omitempty" toml:"runtime_dir,omitempty" mapstructure:"runtime_dir"`

	RequestTimeout     time.Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" mapstructure:"request_timeout"`
	LeaseCheckInterval time.Duration `json:"lease_check_interval" yaml:"lease_check_interval" toml:"lease_check_interval" mapstructure:"lease_check_interval"`

	DiagnosticsAddr string `json:"diagnostics_addr,omitempty" yaml:"diagnostics_addr,omitempty" toml:"diagnostics_addr,omitempty" mapstructure:"diagnostics_addr"`
	Notify          bool   `json:"notify" yaml:"notify" toml:"notify" mapstructure:"notify"`

	LogLevel      string `json:"log_level" yaml:"log_level" toml:"log_level" mapstructure:"log_level"`
	LogFile       string `json:"log_file,omitempty" yaml:"log_file,omitempty" toml:"log_file,omitempty" mapstructure:"log_file"`
	LogMaxSizeMB  int    `json:"log_max_size_mb,omitempty" yaml:"log_max_size_mb,omitempty" toml:"log_max_size_mb,omitempty" mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `json:"log_max_backups,omitempty" yaml:"log_max_backups,omitempty" toml:"log_max_backups,omitempty" mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `json:"log_max_age_days,omitempty" yaml:"log_max_age_days,omitempty" toml:"log_max_age_days,omitempty" mapstructure:"log_max_age_days"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		HistorySize:        history.DefaultCapacity,
		Monitors:           []string{},
		Backend:            window.BackendAuto,
		RequestTimeout:     2 * time.Second,
		LeaseCheckInterval: lease.DefaultCheckInterval,
		LogLevel:           "info",
	}
}

// applyDefaults fills zero values left by a partial config file. HistorySize
// is left alone so an explicit 0 is reported by Validate.
func (c *Config) applyDefaults() {
	d := Defaults()
	if c.Monitors == nil {
		c.Monitors = []string{}
	}
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.LeaseCheckInterval <= 0 {
		c.LeaseCheckInterval = d.LeaseCheckInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate reports the first configuration error found
func (c *Config) Validate() error {
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history_size must be at least 1, got %d", ErrInvalid, c.HistorySize)
	}
	switch c.Backend {
	case window.BackendAuto, window.BackendHyprland, window.BackendX11:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}
	for _, m := range c.Monitors {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("%w: empty monitor name", ErrInvalid)
		}
		if strings.TrimSpace(m) == scope.AllOutputs {
			return fmt.Errorf("%w: %q is reserved, leave monitors empty to track every output", ErrInvalid, scope.AllOutputs)
		}
	}
	return nil
}

// ResolvedRuntimeDir returns the directory holding sockets and the lease registry
func (c *Config) ResolvedRuntimeDir() string {
	if c.RuntimeDir != "" {
		return c.RuntimeDir
	}
	return DefaultRuntimeDir()
}

// DefaultRuntimeDir is $XDG_RUNTIME_DIR/focushist, or a per-user directory
// under the system temp dir when XDG_RUNTIME_DIR is unset
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "focushist")
	}
	return filepath.Join(os.TempDir(), "focushist-"+strconv.Itoa(os.Getuid()))
}

// LogFileConfig returns the rotating file sink settings. An empty Path
// disables the file sink.
func (c *Config) LogFileConfig() logger.FileConfig {
	return logger.FileConfig{
		Path:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	}
}
