package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix starts every environment variable the CLI reads
const EnvPrefix = "DBRECONCILE_"

// Overrides are process-environment values that win over the config file.
// Unset variables leave the pointer fields nil.
type Overrides struct {
	Environment       string `env:"ENVIRONMENT"`
	DatabaseURL       string `env:"DATABASE_URL"`
	Namespace         string `env:"NAMESPACE"`
	ScriptsDir        string `env:"SCRIPTS_DIR"`
	OutputDir         string `env:"OUTPUT_DIR"`
	AllowReset        *bool  `env:"ALLOW_RESET"`
	ReconcileDatabase *bool  `env:"RECONCILE_DATABASE"`
	Verbose           bool   `env:"VERBOSE"`
}

// ParseOverrides reads DBRECONCILE_* variables from environ, or from the
// process environment when environ is nil
func ParseOverrides(environ map[string]string) (*Overrides, error) {
	var o Overrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &o, nil
}

// Settings are the values a reconciliation run needs, after the config file,
// the environment's dotenv file and the overrides have been layered
type Settings struct {
	Environment       string
	DatabaseURL       string
	Local             *bool
	Namespace         string
	ScriptsDir        string
	OutputDir         string
	InitFile          string
	MigrationFile     string
	AllowReset        bool
	ReconcileDatabase bool
}

// Resolve layers config, environment envName and overrides into Settings.
// An empty envName falls back to DBRECONCILE_ENVIRONMENT, then the config's
// default environment.
func Resolve(config *Config, envName string, o *Overrides) (*Settings, error) {
	if o == nil {
		o = &Overrides{}
	}
	if envName == "" {
		envName = o.Environment
	}

	resolved, err := ResolveEnvironment(config, envName)
	if err != nil {
		return nil, err
	}

	s := &Settings{
		Environment:       resolved.Name,
		DatabaseURL:       resolved.DatabaseURL,
		Local:             resolved.Local,
		Namespace:         resolved.Namespace,
		AllowReset:        resolved.AllowReset,
		ReconcileDatabase: true,
		ScriptsDir:        "schema",
		OutputDir:         "build",
	}
	if config != nil {
		if config.ScriptsDir != "" {
			s.ScriptsDir = config.ScriptsDir
		}
		if config.OutputDir != "" {
			s.OutputDir = config.OutputDir
		}
		s.InitFile = config.InitFile
		s.MigrationFile = config.MigrationFile
		if config.ReconcileDatabase != nil {
			s.ReconcileDatabase = *config.ReconcileDatabase
		}
	}

	if o.DatabaseURL != "" {
		s.DatabaseURL = o.DatabaseURL
	}
	if o.Namespace != "" {
		s.Namespace = o.Namespace
	}
	if o.ScriptsDir != "" {
		s.ScriptsDir = o.ScriptsDir
	}
	if o.OutputDir != "" {
		s.OutputDir = o.OutputDir
	}
	if o.AllowReset != nil {
		s.AllowReset = *o.AllowReset
	}
	if o.ReconcileDatabase != nil {
		s.ReconcileDatabase = *o.ReconcileDatabase
	}

	s.ScriptsDir = config.ResolvePath(s.ScriptsDir)
	s.OutputDir = config.ResolvePath(s.OutputDir)
	return s, nil
}
