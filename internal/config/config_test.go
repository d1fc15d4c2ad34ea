package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const exampleConfig = `scripts_dir = "db/schema"
output_dir = "build/db"
default_environment = "local"

[environments.local]
database_url = "postgres://app@localhost:5432/app?sslmode=disable"
allow_reset = true

[environments.prod]
database_url = "postgres://app@db.internal:5432/app"
namespace = "app"
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

// compareConfigPaths compares two paths, resolving symlinks
func compareConfigPaths(t *testing.T, expected, actual string) {
	t.Helper()

	expectedResolved, err := filepath.EvalSymlinks(expected)
	if err != nil {
		expectedResolved = expected
	}
	actualResolved, err := filepath.EvalSymlinks(actual)
	if err != nil {
		actualResolved = actual
	}

	if expectedResolved != actualResolved {
		t.Errorf("Expected ConfigFilePath=%q, got %q", expectedResolved, actualResolved)
	}
}

func TestLoadConfigInCurrentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, FileName)
	writeFile(t, configPath, exampleConfig)
	t.Chdir(tempDir)

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	compareConfigPaths(t, configPath, config.ConfigFilePath)
	if config.ScriptsDir != "db/schema" {
		t.Errorf("Expected scripts_dir=db/schema, got %q", config.ScriptsDir)
	}
	local, ok := config.Environments["local"]
	if !ok {
		t.Fatal("Expected local environment")
	}
	if !local.AllowReset {
		t.Error("Expected allow_reset=true for local")
	}
	if config.Environments["prod"].Namespace != "app" {
		t.Errorf("Expected prod namespace=app, got %q", config.Environments["prod"].Namespace)
	}
}

func TestLoadConfigInParentDirectory(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, FileName)
	writeFile(t, configPath, exampleConfig)
	nested := filepath.Join(tempDir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	config, err := LoadConfigFrom(nested)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}
	compareConfigPaths(t, configPath, config.ConfigFilePath)
}

func TestLoadConfigStopsAtProjectRoot(t *testing.T) {
	tempDir := t.TempDir()
	writeFile(t, filepath.Join(tempDir, FileName), exampleConfig)
	project := filepath.Join(tempDir, "project")
	writeFile(t, filepath.Join(project, "go.mod"), "module example.com/project\n")
	nested := filepath.Join(project, "sub")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("Failed to create nested dir: %v", err)
	}

	config, err := LoadConfigFrom(nested)
	if err != nil {
		t.Fatalf("LoadConfigFrom returned error: %v", err)
	}
	if config.ConfigFilePath != "" {
		t.Errorf("Expected no config past the project root, got %q", config.ConfigFilePath)
	}
	if config.ConfigDir() != nested {
		t.Errorf("Expected ConfigDir=%q, got %q", nested, config.ConfigDir())
	}
}

func TestReadConfigRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown key",
			content: "schema_dir = \"db\"\n",
			wantErr: "schema_dir",
		},
		{
			name:    "wrong type",
			content: "reconcile_database = \"yes\"\n",
			wantErr: "reconcile_database",
		},
		{
			name:    "artifact name with directory",
			content: "init_file = \"out/init.sql\"\n",
			wantErr: "init_file",
		},
		{
			name:    "unknown environment key",
			content: "[environments.local]\npostgres_url = \"x\"\n",
			wantErr: "postgres_url",
		},
		{
			name:    "malformed toml",
			content: "scripts_dir = \n",
			wantErr: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			writeFile(t, path, tt.content)

			_, err := ReadConfig(path)
			if err == nil {
				t.Fatal("Expected an error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigResolvePath(t *testing.T) {
	config := &Config{configDir: "/srv/app"}

	if got := config.ResolvePath("schema"); got != filepath.Join("/srv/app", "schema") {
		t.Errorf("ResolvePath(schema) = %q", got)
	}
	if got := config.ResolvePath("/abs/schema"); got != "/abs/schema" {
		t.Errorf("ResolvePath(/abs/schema) = %q", got)
	}

	var none *Config
	if got := none.ResolvePath("schema"); got != "schema" {
		t.Errorf("nil config ResolvePath = %q", got)
	}
}
