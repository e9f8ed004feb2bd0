package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ListenConfig holds the relay transport settings
type ListenConfig struct {
	// Host is the bind address; empty means all interfaces
	Host string `json:"host,omitempty"`
	// Port is the listening TCP port; 0 picks an ephemeral port
	Port int `json:"port"`
	// MaxConnections caps simultaneous clients; 0 uses the built-in default
	MaxConnections int `json:"max_connections,omitempty"`
}

// QueueConfig holds delivery queue settings
type QueueConfig struct {
	// Capacity bounds undelivered messages held in memory; the oldest entry
	// is evicted at the bound. 0 uses the built-in default, -1 is unbounded.
	Capacity int `json:"capacity,omitempty"`
}

// Config represents application configuration
type Config struct {
	Listen   ListenConfig `json:"listen"`
	Queue    QueueConfig  `json:"queue"`
	LogLevel string       `json:"log_level"` // debug, info, warn, error, none
	LogPath  string       `json:"log_path,omitempty"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "relayd")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "relayd")
	default:
		if configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); configHome != "" {
			return filepath.Join(configHome, "relayd")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "relayd")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "relayd")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "relayd")
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "relayd")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "relayd")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Port: 8124,
		},
		LogLevel: "info",
		LogPath:  filepath.Join(defaultStateDir(), "relayd.log"),
	}
}

// GetConfigPath returns the default config file location
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads configuration from a JSON file, falling back to defaults for a
// missing file. Unset fields keep their default values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration as indented JSON, creating the parent
// directory when necessary.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
