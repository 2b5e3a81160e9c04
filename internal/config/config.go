// Package config loads verseledger settings from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all verseledger settings. It is loaded from
// ~/.verseledger/config.yaml and can be overridden by VL_* environment
// variables (VL_LEDGER_URL, VL_LEDGER_AUTH_TOKEN, ...).
type Config struct {
	// DataDir holds the local database and the table registry cache.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	Ledger  LedgerConfig  `mapstructure:"ledger" yaml:"ledger"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Songs   SongsConfig   `mapstructure:"songs" yaml:"songs"`
}

// LedgerConfig describes how to reach the remote ledger.
type LedgerConfig struct {
	// URL is the libsql endpoint, e.g. libsql://verse-ledger.example.io.
	URL string `mapstructure:"url" yaml:"url"`

	// AuthToken authenticates the connection. Usually set via
	// VL_LEDGER_AUTH_TOKEN rather than written to disk.
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`

	// Address is the owner identity records are namespaced under.
	Address string `mapstructure:"address" yaml:"address"`
}

// LoggingConfig controls the optional rotating log file.
type LoggingConfig struct {
	// File receives log output when set. Empty means stderr only.
	File string `mapstructure:"file" yaml:"file"`

	MaxSizeMB  int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// SongsConfig points at the song catalog.
type SongsConfig struct {
	// CatalogPath is the YAML file listing known songs.
	CatalogPath string `mapstructure:"catalog_path" yaml:"catalog_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "~/.verseledger",
		Logging: LoggingConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Songs: SongsConfig{
			CatalogPath: "~/.verseledger/songs.yaml",
		},
	}
}

// Load reads configuration from the default location
// (~/.verseledger/config.yaml), creating it with defaults if absent.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".verseledger", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file and merges in
// environment overrides. A missing file is created with defaults first.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// VL_LEDGER_AUTH_TOKEN overrides ledger.auth_token, and so on.
	v.SetEnvPrefix("VL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DataDir = expandPath(cfg.DataDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.Songs.CatalogPath = expandPath(cfg.Songs.CatalogPath)
	return &cfg, nil
}

func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
