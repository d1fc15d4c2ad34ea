package database

import (
	"context"
	"database/sql"
)

// SchemaPlaceholder marks the target namespace in generated scripts. It is
// replaced with the quoted namespace when a script is executed.
const SchemaPlaceholder = "{{SCHEMA}}"

// SandboxPrefix starts the name of every sandbox namespace.
const SandboxPrefix = "dbreconcile_sbx_"

// Dialect identifies the SQL dialect of a snapshot
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// ObjectKind is the kind of a schema object inside a snapshot
type ObjectKind string

const (
	KindTable    ObjectKind = "table"
	KindView     ObjectKind = "view"
	KindFunction ObjectKind = "function"
	KindSequence ObjectKind = "sequence"
	KindType     ObjectKind = "type"
	KindTrigger  ObjectKind = "trigger"
)

// Snapshot is the structural fingerprint of one namespace, produced by a
// single introspection call.
type Snapshot struct {
	Namespace string     `json:"namespace"`
	Dialect   Dialect    `json:"dialect"`
	Exists    bool       `json:"exists"`
	Tables    []Table    `json:"tables"`
	Views     []View     `json:"views,omitempty"`
	Functions []Function `json:"functions,omitempty"`
	Sequences []Sequence `json:"sequences,omitempty"`
	Types     []Type     `json:"types,omitempty"`
	Triggers  []Trigger  `json:"triggers,omitempty"`
}

// HasData reports whether the namespace exists and holds at least one table.
func (s *Snapshot) HasData() bool {
	return s != nil && s.Exists && len(s.Tables) > 0
}

// Table represents a database table
type Table struct {
	Name        string       `json:"name"`
	Definition  string       `json:"definition,omitempty"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
}

// Column represents a table column
type Column struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	Default      *string `json:"default,omitempty"`
	IsPrimaryKey bool    `json:"is_primary_key"`
}

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencedTable   string   `json:"referenced_table"`
	ReferencedColumns []string `json:"referenced_columns"`
	OnUpdate          string   `json:"on_update"`
	OnDelete          string   `json:"on_delete"`
}

// Index represents a table index
type Index struct {
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

// View represents a view or materialized view
type View struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// Function represents a function or procedure. Overloads are told apart by
// their identity arguments.
type Function struct {
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	Returns    string `json:"returns"`
	Definition string `json:"definition"`
}

// Sequence represents a sequence
type Sequence struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Start     string `json:"start"`
	Increment string `json:"increment"`
}

// Type represents a user-defined type (enum, composite or domain)
type Type struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Definition string `json:"definition"`
}

// Trigger represents a trigger
type Trigger struct {
	Name       string `json:"name"`
	Table      string `json:"table"`
	Definition string `json:"definition"`
}

// Namespace is a namespace created for a sandbox and the handle that reaches it.
type Namespace struct {
	// Name identifies the namespace for DropNamespace.
	Name string
	// Schema is the schema to introspect and execute against through DB.
	Schema string
	// DB reaches the namespace.
	DB *sql.DB
	// Owned is true when DB was opened for this namespace and must be closed
	// before the namespace is dropped.
	Owned bool
}

// Introspector reads structural metadata from a live or sandboxed target
type Introspector interface {
	// Introspect reads every object kind the engine supports in namespace.
	// A missing namespace yields a snapshot with Exists=false and no error.
	Introspect(ctx context.Context, db *sql.DB, namespace string) (*Snapshot, error)
}

// Engine is a storage engine the reconciliation run can target
type Engine interface {
	Introspector

	// Name returns the engine name (e.g., "postgres", "sqlite")
	Name() string

	// Dialect returns the SQL dialect of the engine
	Dialect() Dialect

	// Open connects to the target and verifies it is reachable
	Open(ctx context.Context, target Target) (*sql.DB, error)

	// DefaultNamespace is the namespace reconciled when none is configured
	DefaultNamespace() string

	// Preamble is the first line of every generated script. It contains
	// SchemaPlaceholder.
	Preamble() string

	// QuoteNamespace quotes a namespace for substitution into a script
	QuoteNamespace(name string) string

	// CreateNamespace creates an empty namespace called name
	CreateNamespace(ctx context.Context, db *sql.DB, name string) (*Namespace, error)

	// DropNamespace drops the namespace called name and everything in it
	DropNamespace(ctx context.Context, db *sql.DB, name string) error

	// ListNamespaces returns the names of namespaces starting with prefix
	ListNamespaces(ctx context.Context, db *sql.DB, prefix string) ([]string, error)

	// ExecScript substitutes the placeholder with namespace and executes the
	// script atomically. Failures carry a *StatementError when the failing
	// statement is known.
	ExecScript(ctx context.Context, db *sql.DB, namespace, script string) error
}

// Checker is implemented by engines that can syntax-check a script without a
// connection.
type Checker interface {
	CheckScript(name, content string) error
}

// MigrationScanner is implemented by engines that can flag destructive
// statements in an authored migration script.
type MigrationScanner interface {
	ScanMigration(name, content string) []string
}
