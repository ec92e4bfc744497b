package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/focushist/internal/logger"
)

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	loaded     bool
	mu         sync.RWMutex
}

// DefaultConfigPath returns $HOME/.config/focushist/config.yaml
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "focushist", "config.yaml"), nil
}

// NewManager loads the configuration at configFile, or at the default path
// when configFile is empty. A missing file yields the defaults; it is only
// written by Save.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		def, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = def
	}

	m := &Manager{configPath: path}
	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Debug().
			Str("path", m.configPath).
			Msg("Config file not found, using defaults")
		m.config = Defaults()
	} else {
		m.loaded = true
		logger.WithComponent("config").Debug().
			Str("path", m.configPath).
			Int("history_size", m.config.HistorySize).
			Strs("monitors", m.config.Monitors).
			Msg("Config loaded")
	}

	return m, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// load reads the configuration from disk
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// keys absent from the file keep their default values
	cfg := Defaults()
	if isTOML(m.configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Loaded reports whether the configuration came from a file
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	cfg.Monitors = append([]string{}, m.config.Monitors...)
	return &cfg
}

// Update replaces the configuration in memory after validating it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return nil
}

// Encode renders the configuration in the file format implied by the path
func (m *Manager) Encode() ([]byte, error) {
	cfg := m.Get()
	if isTOML(m.configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("failed to marshal config: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return err
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
