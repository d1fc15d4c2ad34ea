package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/lockplane/dbreconcile/database"
)

// tableConcurrency bounds the per-table catalog queries in flight
const tableConcurrency = 4

// Introspector implements database.Introspector for PostgreSQL
type Introspector struct{}

// NewIntrospector creates a new PostgreSQL introspector
func NewIntrospector() *Introspector {
	return &Introspector{}
}

// Introspect reads every supported object kind in one schema. Definitions
// are normalized so a sandbox schema compares equal to the live one.
func (i *Introspector) Introspect(ctx context.Context, db *sql.DB, namespace string) (*database.Snapshot, error) {
	snap := &database.Snapshot{
		Namespace: namespace,
		Dialect:   database.DialectPostgres,
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

	tables, err := i.GetTables(ctx, db, namespace)
	if err != nil {
		return nil, err
	}

	snap.Tables = make([]database.Table, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tableConcurrency)
	for idx, name := range tables {
		g.Go(func() error {
			table, err := i.introspectTable(gctx, db, namespace, name)
			if err != nil {
				return err
			}
			snap.Tables[idx] = table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if snap.Views, err = i.GetViews(ctx, db, namespace); err != nil {
		return nil, err
	}
	if snap.Functions, err = i.GetFunctions(ctx, db, namespace); err != nil {
		return nil, err
	}
	if snap.Sequences, err = i.GetSequences(ctx, db, namespace); err != nil {
		return nil, err
	}
	if snap.Types, err = i.GetTypes(ctx, db, namespace); err != nil {
		return nil, err
	}
	if snap.Triggers, err = i.GetTriggers(ctx, db, namespace); err != nil {
		return nil, err
	}

	return snap, nil
}

func (i *Introspector) introspectTable(ctx context.Context, db *sql.DB, namespace, name string) (database.Table, error) {
	table := database.Table{Name: name}

	columns, err := i.GetColumns(ctx, db, namespace, name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get columns for table %s", name)
	}
	table.Columns = columns

	foreignKeys, err := i.GetForeignKeys(ctx, db, namespace, name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get foreign keys for table %s", name)
	}
	table.ForeignKeys = foreignKeys

	indexes, err := i.GetIndexes(ctx, db, namespace, name)
	if err != nil {
		return table, database.Wrapf(database.KindIntrospection, err, "failed to get indexes for table %s", name)
	}
	table.Indexes = indexes

	return table, nil
}

// SchemaExists reports whether the schema is present
func (i *Introspector) SchemaExists(ctx context.Context, db *sql.DB, namespace string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_namespace WHERE nspname = $1)`,
		namespace,
	).Scan(&exists)
	if err != nil {
		return false, database.Wrap(database.KindIntrospection, "failed to check schema", err)
	}
	return exists, nil
}

// GetTables returns the ordinary and partitioned tables in the schema
func (i *Introspector) GetTables(ctx context.Context, db *sql.DB, namespace string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.relname
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind IN ('r', 'p')
		ORDER BY c.relname
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query tables", err)
	}
	defer func() { _ = rows.Close() }()

	var tableNames []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan table name", err)
		}
		tableNames = append(tableNames, tableName)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read tables", err)
	}

	return tableNames, nil
}

// GetColumns returns the columns of a table in attribute order
func (i *Introspector) GetColumns(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.Column, error) {
	query := `
		SELECT
			a.attname,
			pg_catalog.format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			pg_catalog.pg_get_expr(d.adbin, d.adrelid),
			COALESCE(
				(SELECT true
				 FROM pg_catalog.pg_constraint pk
				 WHERE pk.conrelid = c.oid
				   AND pk.contype = 'p'
				   AND a.attnum = ANY (pk.conkey)),
				false
			)
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND a.attnum > 0
		  AND NOT a.attisdropped
		ORDER BY a.attnum
	`

	rows, err := db.QueryContext(ctx, query, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []database.Column
	for rows.Next() {
		var col database.Column
		var defaultVal sql.NullString

		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &defaultVal, &col.IsPrimaryKey); err != nil {
			return nil, err
		}

		// user-defined types come back schema-qualified
		col.Type = database.NormalizeDefinition(col.Type)
		if defaultVal.Valid {
			// nextval('sbx.users_id_seq'::regclass) carries the schema too
			normalized := database.NormalizeDefinition(defaultVal.String)
			col.Default = &normalized
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

// GetForeignKeys returns the foreign keys of a table ordered by constraint
// name, columns in key order
func (i *Introspector) GetForeignKeys(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.ForeignKey, error) {
	query := `
		SELECT
			con.conname,
			src.attname,
			ref.relname,
			dst.attname,
			con.confupdtype,
			con.confdeltype
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_catalog.pg_class ref ON ref.oid = con.confrelid
		CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(src_attnum, dst_attnum, ord)
		JOIN pg_catalog.pg_attribute src ON src.attrelid = con.conrelid AND src.attnum = k.src_attnum
		JOIN pg_catalog.pg_attribute dst ON dst.attrelid = con.confrelid AND dst.attnum = k.dst_attnum
		WHERE con.contype = 'f'
		  AND n.nspname = $1
		  AND c.relname = $2
		ORDER BY con.conname, k.ord
	`

	rows, err := db.QueryContext(ctx, query, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	// Group by constraint name to handle multi-column foreign keys
	var foreignKeys []database.ForeignKey
	for rows.Next() {
		var constraintName, columnName, foreignTableName, foreignColumnName string
		var updateRule, deleteRule string

		if err := rows.Scan(&constraintName, &columnName, &foreignTableName, &foreignColumnName, &updateRule, &deleteRule); err != nil {
			return nil, err
		}

		n := len(foreignKeys)
		if n == 0 || foreignKeys[n-1].Name != constraintName {
			foreignKeys = append(foreignKeys, database.ForeignKey{
				Name:            constraintName,
				ReferencedTable: foreignTableName,
				OnUpdate:        referentialAction(updateRule),
				OnDelete:        referentialAction(deleteRule),
			})
			n++
		}

		foreignKeys[n-1].Columns = append(foreignKeys[n-1].Columns, columnName)
		foreignKeys[n-1].ReferencedColumns = append(foreignKeys[n-1].ReferencedColumns, foreignColumnName)
	}

	return foreignKeys, rows.Err()
}

// GetIndexes returns the non-primary-key indexes of a table ordered by name.
// Expression index keys are recorded by their expression text.
func (i *Introspector) GetIndexes(ctx context.Context, db *sql.DB, namespace, tableName string) ([]database.Index, error) {
	query := `
		SELECT
			ic.relname,
			ix.indisunique,
			pg_catalog.pg_get_indexdef(ix.indexrelid, k.n, true)
		FROM pg_catalog.pg_index ix
		JOIN pg_catalog.pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_catalog.pg_class c ON c.oid = ix.indrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		CROSS JOIN LATERAL generate_series(1, ix.indnkeyatts) AS k(n)
		WHERE n.nspname = $1
		  AND c.relname = $2
		  AND NOT ix.indisprimary
		ORDER BY ic.relname, k.n
	`

	rows, err := db.QueryContext(ctx, query, namespace, tableName)
	if err != nil {
		return nil, fmt.Errorf("query failed for table %q (schema: %s): %w", tableName, namespace, err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []database.Index
	for rows.Next() {
		var name, column string
		var unique bool

		if err := rows.Scan(&name, &unique, &column); err != nil {
			return nil, err
		}

		n := len(indexes)
		if n == 0 || indexes[n-1].Name != name {
			indexes = append(indexes, database.Index{Name: name, Unique: unique})
			n++
		}
		indexes[n-1].Columns = append(indexes[n-1].Columns, database.NormalizeDefinition(column))
	}

	return indexes, rows.Err()
}

// GetViews returns views and materialized views with normalized definitions
func (i *Introspector) GetViews(ctx context.Context, db *sql.DB, namespace string) ([]database.View, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.relname, pg_catalog.pg_get_viewdef(c.oid, true)
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND c.relkind IN ('v', 'm')
		ORDER BY c.relname
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query views", err)
	}
	defer func() { _ = rows.Close() }()

	var views []database.View
	for rows.Next() {
		var v database.View
		if err := rows.Scan(&v.Name, &v.Definition); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan view", err)
		}
		v.Definition = database.NormalizeDefinition(v.Definition)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read views", err)
	}
	return views, nil
}

// GetFunctions returns functions and procedures not owned by an extension
func (i *Introspector) GetFunctions(ctx context.Context, db *sql.DB, namespace string) ([]database.Function, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			p.proname,
			pg_catalog.pg_get_function_identity_arguments(p.oid),
			COALESCE(pg_catalog.pg_get_function_result(p.oid), ''),
			pg_catalog.pg_get_functiondef(p.oid)
		FROM pg_catalog.pg_proc p
		JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1
		  AND p.prokind IN ('f', 'p')
		  AND NOT EXISTS (
			SELECT 1 FROM pg_catalog.pg_depend dep
			WHERE dep.objid = p.oid AND dep.deptype = 'e'
		  )
		ORDER BY p.proname, 2
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query functions", err)
	}
	defer func() { _ = rows.Close() }()

	var functions []database.Function
	for rows.Next() {
		var f database.Function
		if err := rows.Scan(&f.Name, &f.Arguments, &f.Returns, &f.Definition); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan function", err)
		}
		f.Arguments = database.NormalizeDefinition(f.Arguments)
		f.Returns = database.NormalizeDefinition(f.Returns)
		f.Definition = database.NormalizeDefinition(f.Definition)
		functions = append(functions, f)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read functions", err)
	}
	return functions, nil
}

// GetSequences returns the sequences of the schema
func (i *Introspector) GetSequences(ctx context.Context, db *sql.DB, namespace string) ([]database.Sequence, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT sequence_name, data_type, start_value, increment
		FROM information_schema.sequences
		WHERE sequence_schema = $1
		ORDER BY sequence_name
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query sequences", err)
	}
	defer func() { _ = rows.Close() }()

	var sequences []database.Sequence
	for rows.Next() {
		var s database.Sequence
		if err := rows.Scan(&s.Name, &s.DataType, &s.Start, &s.Increment); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan sequence", err)
		}
		sequences = append(sequences, s)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read sequences", err)
	}
	return sequences, nil
}

// GetTypes returns enum, composite and domain types. Row types that back
// tables are excluded.
func (i *Introspector) GetTypes(ctx context.Context, db *sql.DB, namespace string) ([]database.Type, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			t.typname,
			CASE t.typtype WHEN 'e' THEN 'enum' WHEN 'c' THEN 'composite' ELSE 'domain' END,
			CASE t.typtype
				WHEN 'e' THEN (
					SELECT string_agg(quote_literal(e.enumlabel), ', ' ORDER BY e.enumsortorder)
					FROM pg_catalog.pg_enum e WHERE e.enumtypid = t.oid)
				WHEN 'c' THEN (
					SELECT string_agg(a.attname || ' ' || pg_catalog.format_type(a.atttypid, a.atttypmod), ', ' ORDER BY a.attnum)
					FROM pg_catalog.pg_attribute a
					WHERE a.attrelid = t.typrelid AND a.attnum > 0 AND NOT a.attisdropped)
				ELSE pg_catalog.format_type(t.typbasetype, t.typtypmod) || COALESCE(' ' || (
					SELECT string_agg(pg_catalog.pg_get_constraintdef(con.oid, true), ' ' ORDER BY con.conname)
					FROM pg_catalog.pg_constraint con WHERE con.contypid = t.oid), '')
			END
		FROM pg_catalog.pg_type t
		JOIN pg_catalog.pg_namespace n ON n.oid = t.typnamespace
		LEFT JOIN pg_catalog.pg_class c ON c.oid = t.typrelid
		WHERE n.nspname = $1
		  AND (t.typtype IN ('e', 'd') OR (t.typtype = 'c' AND c.relkind = 'c'))
		ORDER BY t.typname
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query types", err)
	}
	defer func() { _ = rows.Close() }()

	var types []database.Type
	for rows.Next() {
		var t database.Type
		var def sql.NullString
		if err := rows.Scan(&t.Name, &t.Kind, &def); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan type", err)
		}
		t.Definition = database.NormalizeDefinition(def.String)
		types = append(types, t)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read types", err)
	}
	return types, nil
}

// GetTriggers returns user triggers on tables of the schema
func (i *Introspector) GetTriggers(ctx context.Context, db *sql.DB, namespace string) ([]database.Trigger, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tg.tgname, c.relname, pg_catalog.pg_get_triggerdef(tg.oid, true)
		FROM pg_catalog.pg_trigger tg
		JOIN pg_catalog.pg_class c ON c.oid = tg.tgrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1
		  AND NOT tg.tgisinternal
		ORDER BY tg.tgname, c.relname
	`, namespace)
	if err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to query triggers", err)
	}
	defer func() { _ = rows.Close() }()

	var triggers []database.Trigger
	for rows.Next() {
		var tr database.Trigger
		if err := rows.Scan(&tr.Name, &tr.Table, &tr.Definition); err != nil {
			return nil, database.Wrap(database.KindIntrospection, "failed to scan trigger", err)
		}
		tr.Definition = database.NormalizeDefinition(tr.Definition)
		triggers = append(triggers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap(database.KindIntrospection, "failed to read triggers", err)
	}
	return triggers, nil
}

// referentialAction maps a pg_constraint action code to its SQL keyword
func referentialAction(code string) string {
	switch code {
	case "r":
		return "RESTRICT"
	case "c":
		return "CASCADE"
	case "n":
		return "SET NULL"
	case "d":
		return "SET DEFAULT"
	default:
		return "NO ACTION"
	}
}

// quoteIdent quotes a schema name for use in DDL
func quoteIdent(name string) string {
	return pq.QuoteIdentifier(strings.TrimSpace(name))
}
