package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lockplane/dbreconcile/database"
)

// Driver implements database.Engine for SQLite files and remote libSQL
// databases. A sandbox namespace is a throwaway database file in the temp
// directory.
type Driver struct {
	*Introspector

	// TempDir holds sandbox database files. Defaults to os.TempDir().
	TempDir string
}

// NewDriver creates a new SQLite driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
	}
}

// Ensure Driver implements database.Engine
var _ database.Engine = (*Driver)(nil)

var nearTokenPattern = regexp.MustCompile(`near "([^"]+)"`)

// Name returns the database driver name
func (d *Driver) Name() string {
	return "sqlite"
}

// Dialect returns the SQL dialect of the engine
func (d *Driver) Dialect() database.Dialect {
	return database.DialectSQLite
}

// DefaultNamespace is the main schema of the database file
func (d *Driver) DefaultNamespace() string {
	return "main"
}

// Preamble records the namespace as a comment. SQLite scripts run against
// the database they are opened on.
func (d *Driver) Preamble() string {
	return "-- schema: " + database.SchemaPlaceholder
}

// QuoteNamespace quotes a schema name
func (d *Driver) QuoteNamespace(name string) string {
	return quoteIdent(name)
}

// Open opens a local database file or a remote libSQL database. A local
// file that does not exist yet yields database.ErrNoNamespace.
func (d *Driver) Open(ctx context.Context, target database.Target) (*sql.DB, error) {
	driverType, err := database.DetectDriver(target.URL)
	if err != nil {
		return nil, err
	}
	if driverType == "postgres" {
		return nil, database.Wrap(database.KindInput, "resolve target", fmt.Errorf("%s is not a SQLite or libSQL target", target.Redacted()))
	}

	if driverType == "libsql" {
		db, err := sql.Open(database.SQLDriverName(driverType), target.URL)
		if err != nil {
			return nil, database.Wrap(database.KindConnection, "failed to open libsql database", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, database.Wrapf(database.KindConnection, err, "failed to connect to %s", target.Redacted())
		}
		return db, nil
	}

	path := FilePath(target.URL)
	if path != ":memory:" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, database.ErrNoNamespace
			}
			return nil, database.Wrapf(database.KindConnection, err, "failed to stat %s", path)
		}
	}
	return openFile(ctx, path)
}

// CreateNamespace creates an empty sandbox database file. The parent handle
// is not used: the sandbox is always a local file.
func (d *Driver) CreateNamespace(ctx context.Context, _ *sql.DB, name string) (*database.Namespace, error) {
	path := d.namespacePath(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, database.Wrapf(database.KindSandbox, err, "failed to create sandbox file %s", path)
	}
	_ = f.Close()

	db, err := openFile(ctx, path)
	if err != nil {
		_ = RemoveDatabaseFiles(path)
		return nil, database.Wrapf(database.KindSandbox, err, "failed to open sandbox file %s", path)
	}

	return &database.Namespace{
		Name:   name,
		Schema: d.DefaultNamespace(),
		DB:     db,
		Owned:  true,
	}, nil
}

// DropNamespace removes a sandbox database file with its journal files
func (d *Driver) DropNamespace(_ context.Context, _ *sql.DB, name string) error {
	if err := RemoveDatabaseFiles(d.namespacePath(name)); err != nil {
		return database.Wrapf(database.KindSandbox, err, "failed to remove sandbox %s", name)
	}
	return nil
}

// ListNamespaces returns sandbox database files whose name starts with prefix
func (d *Driver) ListNamespaces(_ context.Context, _ *sql.DB, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.tempDir(), prefix+"*.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sandbox files: %w", err)
	}

	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".db")
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ExecScript runs the whole script in one transaction. SQLite reports no
// statement offsets, so a failure is located by the token the error names
// when there is one.
func (d *Driver) ExecScript(ctx context.Context, db *sql.DB, namespace, script string) error {
	rendered := database.RenderScript(script, quoteIdent(namespace))

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, rendered); err != nil {
		_ = tx.Rollback()
		return &database.StatementError{Offset: errorOffset(rendered, err), Err: err}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FilePath extracts the file path from a SQLite connection string
func FilePath(connStr string) string {
	path := connStr
	for _, prefix := range []string{"sqlite://", "file:"} {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			// Remove query parameters
			if idx := strings.Index(path, "?"); idx >= 0 {
				path = path[:idx]
			}
			break
		}
	}
	return path
}

func (d *Driver) tempDir() string {
	if d.TempDir != "" {
		return d.TempDir
	}
	return os.TempDir()
}

func (d *Driver) namespacePath(name string) string {
	return filepath.Join(d.tempDir(), name+".db")
}

// openFile opens a database file on a single connection with foreign keys
// enforced
func openFile(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, database.Wrap(database.KindConnection, "failed to open sqlite database", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, database.Wrapf(database.KindConnection, err, "failed to open %s", path)
	}
	return db, nil
}

// RemoveDatabaseFiles removes a database file with its WAL, shared-memory
// and journal files. Missing files are not an error.
func RemoveDatabaseFiles(path string) error {
	var errs []error
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// errorOffset finds the token named by a syntax error in the script, or -1
func errorOffset(script string, err error) int {
	m := nearTokenPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return -1
	}
	return strings.Index(script, m[1])
}

// quoteIdent double-quotes an identifier
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
