package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

const defaultEnvironmentName = "local"

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name        string
	DatabaseURL string
	Namespace   string
	AllowReset  bool
	Local       *bool
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveEnvironment resolves a named environment into a concrete target.
// Values in .env.<name> next to the config file win over dbreconcile.toml.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if config != nil && config.Environments != nil {
		if cfg, ok := config.Environments[envName]; ok {
			envConfig = cfg
			envExists = true
		}
	}

	resolved := &ResolvedEnvironment{
		Name:        envName,
		DatabaseURL: envConfig.DatabaseURL,
		Namespace:   envConfig.Namespace,
		AllowReset:  envConfig.AllowReset,
		Local:       envConfig.Local,
		FromConfig:  envExists,
	}

	baseDir := config.ConfigDir()
	if baseDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			baseDir = cwd
		}
	}
	resolved.DotenvPath = filepath.Join(baseDir, ".env."+envName)

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		applyDotenv(resolved, values)
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	return resolved, nil
}

// applyDotenv reads the connection string from the first variable that is
// set: DATABASE_URL, POSTGRES_URL, SQLITE_DB_PATH, then LIBSQL_URL with
// LIBSQL_AUTH_TOKEN.
func applyDotenv(resolved *ResolvedEnvironment, values map[string]string) {
	switch {
	case values["DATABASE_URL"] != "":
		resolved.DatabaseURL = values["DATABASE_URL"]
	case values["POSTGRES_URL"] != "":
		resolved.DatabaseURL = values["POSTGRES_URL"]
	case values["SQLITE_DB_PATH"] != "":
		resolved.DatabaseURL = values["SQLITE_DB_PATH"]
	case values["LIBSQL_URL"] != "":
		resolved.DatabaseURL = values["LIBSQL_URL"]
		if authToken := values["LIBSQL_AUTH_TOKEN"]; authToken != "" {
			resolved.DatabaseURL = fmt.Sprintf("%s?authToken=%s", values["LIBSQL_URL"], authToken)
		}
	}

	if value := values["DB_NAMESPACE"]; value != "" {
		resolved.Namespace = value
	}
}
