package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lockplane/dbreconcile/database"
)

// Introspector implements database.Introspector for SQLite. Catalog reads
// are sequential: sandbox and local handles hold a single connection, so
// every result set is drained before the next query starts.
type Introspector struct{}

// NewIntrospector creates a new SQLite introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// Introspect reads tables, views and triggers of one attached schema
// (usually "main").
func (i *Introspector) Introspect(ctx context.Context, db *sql.DB, namespace string) (*database.Snapshot, error) {
	snap := &database.Snapshot{
		Namespace: namespace,
		Dialect:   database.DialectSQLite,
		Tables:    make([]database.Table, 0),
	}

	exists, err := i.SchemaExists(ctx, db, namespace)
	if err != nil {
		return nil, err
	}
	if !exists {
		return snap, nil
	}
	snap.Exists = true

	objects, err := i.getObjects(ctx, db, namespace)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		switch obj.kind {
		case "table":
			table, err := i.introspectTable(ctx, db, namespace, obj)
			if err != nil {
				return nil, err
			}
			snap.Tables = append(snap.Tables, table)
		case "view":
			snap.Views = append(snap.Views, database.View{
				Name:       obj.name,
				Definition: database.NormalizeDefinition(obj.sql),
			})
		case "trigger":
			snap.Triggers = append(snap.Triggers, database.Trigger{
				Name:       obj.name,
				Table:      obj.table,
				Definition: database.NormalizeDefinition(obj.sql),
			})
		}
	}

	return snap, nil
}

func (i *Introspector) introspectTable(ctx context.Context, db *sql.DB, namespace string, obj object) (database.Table, error) {
	table := database.Table{Name: obj.name, Definition: obj.sql}

	columns, err := i.GetColumns(ctx, db, namespace, obj.name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get columns for table %s", obj.name)
	}
	table.Columns = columns

	foreignKeys, err := i.GetForeignKeys(ctx, db, namespace, obj.name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get foreign keys for table %s", obj.name)
	}
	table.ForeignKeys = foreignKeys

	indexes, err := i.GetIndexes(ctx, db, namespace, obj.name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get indexes for table %s", obj.name)
	}
	table.Indexes = indexes

	return table, nil
}

// SchemaExists reports whether a schema is attached to the connection
func (i *Introspector) SchemaExists(ctx context.Context, db *sql.DB, namespace string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return false, database.Wrap(database.KindIntrospection, "failed to list databases", err)
	}
	defer func() { _ = rows.Close() }()

	found := false
	for rows.Next() {
		var seq int
		var name string
		var file sql.NullString
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return false, database.Wrap(database.KindIntrospection, "failed to scan database list", err)
		}
		if name == namespace {
			found = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, database.Wrap(database.KindIntrospection, "failed to read database list", err)
	}
	return found, nil
}

type object struct {
	kind  string
	name  string
	table string
	sql   string
}

// getObjects reads tables, views and triggers from the schema catalog
func (i *Introspector) getObjects(ctx context.Context, db *sql.DB, namespace string) ([]object, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT type, name, tbl_name, sql
		FROM %s.sqlite_master
		WHERE type IN ('table', 'view', 'trigger')
		AND name NOT LIKE 'sqlite_%%'
		ORDER BY type, name
	`, quoteIdent(namespace)))
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query sqlite_master", err)
	}
	defer func() { _ = rows.Close() }()

	var objects []object
	for rows.Next() {
		var obj object
		var def sql.NullString
		if err := rows.Scan(&obj.kind, &obj.name, &obj.table, &def); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan sqlite_master", err)
		}
		obj.sql = def.String
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read sqlite_master", err)
	}
	return objects, nil
}

// GetTables returns all table names in the schema
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB, namespace string) ([]string, error) {
	objects, err := i.getObjects(ctx, db, namespace)
	if err != nil {
		return nil, err
	}

	var tableNames []string
	for _, obj := range objects {
		if obj.kind == "table" {
			tableNames = append(tableNames, obj.name)
		}
	}
	return tableNames, nil
}

// GetColumns returns all columns for a given SQLite table
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.Column, error) {
	query := fmt.Sprintf("PRAGMA %s.table_info(%s)", quoteIdent(namespace), quoteIdent(tableName))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	for rows.Next() {
		var cid int
		var col database.Column
		var notNull int
		var defaultVal sql.NullString
		var pk int

		// PRAGMA table_info returns: cid, name, type, notnull, dflt_value, pk
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}

		col.Nullable = notNull == 0
		col.IsPrimaryKey = pk > 0
		if defaultVal.Valid {
			col.Default = &defaultVal.String
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// GetIndexes returns the indexes of a table ordered by name. Indexes backing
// the primary key are excluded.
func (i *Introspector) GetIndexes(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.Index, error) {
	query := fmt.Sprintf("PRAGMA %s.index_list(%s)", quoteIdent(namespace), quoteIdent(tableName))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	var indexes []database.Index
	for rows.Next() {
		var seq int
		var idx database.Index
		var origin string
		var partial int
		var unique int

		// PRAGMA index_list returns: seq, name, unique, origin, partial
		if err := rows.Scan(&seq, &idx.Name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return nil, err
		}

		idx.Unique = unique == 1
		if origin != "pk" {
			indexes = append(indexes, idx)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	for n := range indexes {
		columns, err := i.indexColumns(ctx, db, namespace, indexes[n].Name)
		if err != nil {
			return nil, err
		}
		indexes[n].Columns = columns
	}

	sort.Slice(indexes, func(a, b int) bool { return indexes[a].Name < indexes[b].Name })
	return indexes, nil
}

// indexColumns returns the key columns of an index in key order. Expression
// keys have no name and are reported as "<expr>".
func (i *Introspector) indexColumns(ctx context.Context, db *sql.DB, namespace, indexName string) ([]string, error) {
	query := fmt.Sprintf("PRAGMA %s.index_info(%s)", quoteIdent(namespace), quoteIdent(indexName))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString

		// PRAGMA index_info returns: seqno, cid, name
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}

		if name.Valid {
			columns = append(columns, name.String)
		} else {
			columns = append(columns, "<expr>")
		}
	}

	return columns, rows.Err()
}

// GetForeignKeys returns the foreign keys of a table in catalog order
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.ForeignKey, error) {
	query := fmt.Sprintf("PRAGMA %s.foreign_key_list(%s)", quoteIdent(namespace), quoteIdent(tableName))

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	// Group by id (foreign key constraint ID)
	var foreignKeys []database.ForeignKey
	lastID := -1

	for rows.Next() {
		var id, seq int
		var table, from string
		var to sql.NullString
		var onUpdate, onDelete, match string

		// PRAGMA foreign_key_list returns: id, seq, table, from, to, on_update, on_delete, match
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, err
		}

		if len(foreignKeys) == 0 || id != lastID {
			foreignKeys = append(foreignKeys, database.ForeignKey{
				// SQLite constraints are unnamed
				Name:            fmt.Sprintf("fk_%s_%d", tableName, id),
				ReferencedTable: table,
				OnUpdate:        onUpdate,
				OnDelete:        onDelete,
			})
			lastID = id
		}

		fk := &foreignKeys[len(foreignKeys)-1]
		fk.Columns = append(fk.Columns, from)
		// a NULL target column references the parent's primary key
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}

	return foreignKeys, rows.Err()
}
