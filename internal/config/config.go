// Package config loads dbreconcile.toml, resolves named environments and
// applies DBRECONCILE_* overrides. Only the CLI reads configuration; the rest
// of the module takes explicit values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file looked up from the working directory upwards
const FileName = "dbreconcile.toml"

// EnvironmentConfig describes a single named environment from dbreconcile.toml.
type EnvironmentConfig struct {
	Description string `toml:"description,omitempty"`
	DatabaseURL string `toml:"database_url,omitempty"`
	Namespace   string `toml:"namespace,omitempty"`
	// AllowReset permits recreating a drifted target. Only honored for local
	// targets.
	AllowReset bool `toml:"allow_reset,omitempty"`
	// Local overrides host-based locality detection
	Local *bool `toml:"local,omitempty"`
}

type Config struct {
	ScriptsDir         string                       `toml:"scripts_dir,omitempty"`
	OutputDir          string                       `toml:"output_dir,omitempty"`
	InitFile           string                       `toml:"init_file,omitempty"`
	MigrationFile      string                       `toml:"migration_file,omitempty"`
	ReconcileDatabase  *bool                        `toml:"reconcile_database,omitempty"`
	DefaultEnvironment string                       `toml:"default_environment,omitempty"`
	Environments       map[string]EnvironmentConfig `toml:"environments,omitempty"`
	ConfigFilePath     string                       `toml:"-"`

	configDir string
}

// LoadConfig looks for dbreconcile.toml in the working directory and its
// parents, stopping at the project root. A missing file yields an empty
// config.
func LoadConfig() (*Config, error) {
	startDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return LoadConfigFrom(startDir)
}

// LoadConfigFrom is LoadConfig starting at dir
func LoadConfigFrom(startDir string) (*Config, error) {
	dir := startDir
	for {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return ReadConfig(configPath)
		}

		// Check if we've reached a project boundary
		if isProjectRoot(dir) {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return &Config{configDir: startDir}, nil
}

// ReadConfig parses and validates one config file
func ReadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", configPath, err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	config.ConfigFilePath = configPath
	config.configDir = filepath.Dir(configPath)
	return &config, nil
}

// ConfigDir is the directory relative paths in the config are resolved
// against
func (c *Config) ConfigDir() string {
	if c == nil {
		return ""
	}
	return c.configDir
}

// ResolvePath makes path absolute relative to the config directory
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || c.ConfigDir() == "" {
		return path
	}
	return filepath.Join(c.ConfigDir(), path)
}

// isProjectRoot checks if the directory is a project root based on common markers
func isProjectRoot(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
		return true
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); err == nil {
		return true
	}
	return false
}
