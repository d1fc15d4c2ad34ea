package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/internal/diagnostic"
)

// Driver implements database.Engine for PostgreSQL. A namespace is a schema.
type Driver struct {
	*Introspector
}

// NewDriver creates a new PostgreSQL driver
func NewDriver() *Driver {
	return &Driver{
		Introspector: NewIntrospector(),
	}
}

// Ensure Driver implements the engine capabilities
var (
	_ database.Engine           = (*Driver)(nil)
	_ database.Checker          = (*Driver)(nil)
	_ database.MigrationScanner = (*Driver)(nil)
)

// Name returns the database driver name
func (d *Driver) Name() string {
	return "postgres"
}

// Dialect returns the SQL dialect of the engine
func (d *Driver) Dialect() database.Dialect {
	return database.DialectPostgres
}

// DefaultNamespace is the schema reconciled when none is configured
func (d *Driver) DefaultNamespace() string {
	return "public"
}

// Preamble points every following statement at the target schema
func (d *Driver) Preamble() string {
	return "SET search_path TO " + database.SchemaPlaceholder + ";"
}

// QuoteNamespace quotes a schema name
func (d *Driver) QuoteNamespace(name string) string {
	return quoteIdent(name)
}

// Open connects to the server and pings it
func (d *Driver) Open(ctx context.Context, target database.Target) (*sql.DB, error) {
	db, err := sql.Open("postgres", target.URL)
	if err != nil {
		return nil, database.Wrap(database.KindConnection, "failed to open database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, database.Wrapf(database.KindConnection, err, "failed to connect to %s", target.Redacted())
	}
	return db, nil
}

// CreateNamespace creates an empty schema reachable through db
func (d *Driver) CreateNamespace(ctx context.Context, db *sql.DB, name string) (*database.Namespace, error) {
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA "+quoteIdent(name)); err != nil {
		return nil, database.Wrapf(database.KindSandbox, err, "failed to create schema %s", name)
	}
	return &database.Namespace{Name: name, Schema: name, DB: db}, nil
}

// DropNamespace drops a schema and everything in it
func (d *Driver) DropNamespace(ctx context.Context, db *sql.DB, name string) error {
	if _, err := db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoteIdent(name)+" CASCADE"); err != nil {
		return database.Wrapf(database.KindSandbox, err, "failed to drop schema %s", name)
	}
	return nil
}

// ListNamespaces returns schemas whose name starts with prefix
func (d *Driver) ListNamespaces(ctx context.Context, db *sql.DB, prefix string) ([]string, error) {
	// LIKE would treat the underscores in the prefix as wildcards
	rows, err := db.QueryContext(ctx, `
		SELECT nspname
		FROM pg_catalog.pg_namespace
		WHERE left(nspname, length($1)) = $1
		ORDER BY nspname
	`, prefix)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to list schemas", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan schema name", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ExecScript renders the placeholder with the quoted schema and runs every
// statement in one transaction on a single connection. The search_path set
// by the preamble is reset before the connection returns to the pool.
func (d *Driver) ExecScript(ctx context.Context, db *sql.DB, namespace, script string) error {
	rendered := database.RenderScript(script, quoteIdent(namespace))

	statements, err := SplitStatements(rendered)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return database.Wrap(database.KindConnection, "failed to acquire connection", err)
	}
	defer func() { _ = conn.Close() }()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.SQL); err != nil {
			_ = tx.Rollback()
			_, _ = conn.ExecContext(ctx, "RESET search_path")
			return &database.StatementError{Offset: stmt.Offset, Statement: stmt.SQL, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "RESET search_path"); err != nil {
		return fmt.Errorf("failed to reset search_path: %w", err)
	}
	return nil
}

// Statement is one statement of a script and its byte offset in the script
type Statement struct {
	SQL    string
	Offset int
}

// SplitStatements splits a script into statements with the PostgreSQL parser,
// so semicolons inside strings, dollar-quoted bodies and BEGIN ATOMIC blocks
// are handled.
func SplitStatements(script string) ([]Statement, error) {
	parts, err := pg_query.SplitWithParser(script, true)
	if err != nil {
		return nil, &database.StatementError{Offset: -1, Err: fmt.Errorf("failed to parse script: %w", err)}
	}

	statements := make([]Statement, 0, len(parts))
	pos := 0
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		offset := -1
		if idx := strings.Index(script[pos:], part); idx >= 0 {
			offset = pos + idx
			pos = offset + len(part)
		}
		statements = append(statements, Statement{SQL: part, Offset: offset})
	}
	return statements, nil
}

// CheckScript parses a script without a connection
func (d *Driver) CheckScript(name, content string) error {
	return diagnostic.Check(name, content).Err()
}

// ScanMigration returns a warning for every statement in an authored
// migration that deletes data
func (d *Driver) ScanMigration(name, content string) []string {
	var warnings []string
	for _, w := range diagnostic.ScanDestructive(name, content).Warnings() {
		warnings = append(warnings, w.FormatMessage(name))
	}
	return warnings
}

