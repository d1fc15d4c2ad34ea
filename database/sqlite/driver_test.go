package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/lockplane/dbreconcile/database"
)

func TestDriver_Basics(t *testing.T) {
	driver := NewDriver()

	if driver.Name() != "sqlite" {
		t.Errorf("Expected name 'sqlite', got '%s'", driver.Name())
	}
	if driver.DefaultNamespace() != "main" {
		t.Errorf("DefaultNamespace() = %q", driver.DefaultNamespace())
	}
	if !strings.Contains(driver.Preamble(), database.SchemaPlaceholder) {
		t.Errorf("Preamble() %q must contain the placeholder", driver.Preamble())
	}
	if got := driver.QuoteNamespace(`a"b`); got != `"a""b"` {
		t.Errorf("QuoteNamespace() = %s", got)
	}
}

func TestFilePath(t *testing.T) {
	tests := []struct {
		connStr  string
		expected string
	}{
		{"./app.db", "./app.db"},
		{"sqlite://./app.db", "./app.db"},
		{"sqlite:///var/data/app.db?cache=shared", "/var/data/app.db"},
		{"file:app.db?mode=rwc", "app.db"},
		{":memory:", ":memory:"},
	}

	for _, tt := range tests {
		t.Run(tt.connStr, func(t *testing.T) {
			if got := FilePath(tt.connStr); got != tt.expected {
				t.Errorf("FilePath(%q) = %q, want %q", tt.connStr, got, tt.expected)
			}
		})
	}
}

func TestDriver_OpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")

	_, err := NewDriver().Open(context.Background(), database.Target{URL: path})
	if !errors.Is(err, database.ErrNoNamespace) {
		t.Fatalf("expected ErrNoNamespace, got %v", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("Open must not create the target file")
	}
}

func TestDriver_OpenExistingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "app.db")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	db, err := NewDriver().Open(ctx, database.Target{URL: "sqlite://" + path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var fk int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Error("foreign keys should be enforced")
	}
}

func TestDriver_NamespaceLifecycle(t *testing.T) {
	ctx := context.Background()
	driver := NewDriver()
	driver.TempDir = t.TempDir()

	name := database.SandboxPrefix + "1700000000_deadbeef"
	ns, err := driver.CreateNamespace(ctx, nil, name)
	if err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
	if !ns.Owned || ns.Schema != "main" || ns.Name != name {
		t.Errorf("unexpected namespace %+v", ns)
	}

	if _, err := driver.CreateNamespace(ctx, nil, name); !errors.Is(err, database.ErrSandbox) {
		t.Errorf("second CreateNamespace should fail with ErrSandbox, got %v", err)
	}

	script := driver.Preamble() + "\n\nCREATE TABLE a (id INTEGER PRIMARY KEY);\n"
	if err := driver.ExecScript(ctx, ns.DB, ns.Schema, script); err != nil {
		t.Fatalf("ExecScript failed: %v", err)
	}

	names, err := driver.ListNamespaces(ctx, nil, database.SandboxPrefix)
	if err != nil {
		t.Fatalf("ListNamespaces failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{name}) {
		t.Errorf("ListNamespaces() = %v", names)
	}

	_ = ns.DB.Close()
	if err := driver.DropNamespace(ctx, nil, name); err != nil {
		t.Fatalf("DropNamespace failed: %v", err)
	}
	if err := driver.DropNamespace(ctx, nil, name); err != nil {
		t.Errorf("dropping twice should be a no-op, got %v", err)
	}

	names, err = driver.ListNamespaces(ctx, nil, database.SandboxPrefix)
	if err != nil {
		t.Fatalf("ListNamespaces failed: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("expected no namespaces after drop, got %v", names)
	}
}

func TestDriver_ExecScriptRollsBack(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	driver := NewDriver()

	script := "-- schema: {{SCHEMA}}\n\nCREATE TABLE a (id INTEGER);\nCREATE TABEL b (id INTEGER);\n"
	err := driver.ExecScript(ctx, db, "main", script)

	var stmtErr *database.StatementError
	if !errors.As(err, &stmtErr) {
		t.Fatalf("expected *StatementError, got %v", err)
	}
	rendered := database.RenderScript(script, `"main"`)
	if stmtErr.Offset != strings.Index(rendered, "TABEL") {
		t.Errorf("Offset = %d, want %d", stmtErr.Offset, strings.Index(rendered, "TABEL"))
	}

	tables, err := driver.GetTables(ctx, db, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(tables) != 0 {
		t.Errorf("expected rollback to leave no tables, got %v", tables)
	}
}
