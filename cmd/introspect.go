package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/database"
)

var introspectNamespace string

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Introspect a database and print its snapshot as JSON",
	Long: `Introspect a database and print the structural snapshot dbreconcile compares.

The database can be specified via:
  1. --db flag (highest priority)
  2. DBRECONCILE_DATABASE_URL
  3. --environment or the default environment from dbreconcile.toml`,
	Example: `  # Introspect the default environment
  dbreconcile introspect > snapshot.json

  # Introspect a specific schema
  dbreconcile introspect --db postgresql://localhost:5432/app?sslmode=disable --namespace billing`,
	RunE: runIntrospect,
}

func init() {
	rootCmd.AddCommand(introspectCmd)
	introspectCmd.Flags().StringVar(&introspectNamespace, "namespace", "", "Schema to introspect (default public for PostgreSQL, main for SQLite)")
}

func runIntrospect(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if introspectNamespace != "" {
		settings.Namespace = introspectNamespace
	}
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	engine, db, err := openTarget(cmd.Context(), settings)
	if err != nil {
		return err
	}
	defer closeDB(db, logger)

	ns := namespace(engine, settings)
	snapshot := &database.Snapshot{Namespace: ns, Dialect: engine.Dialect()}
	if db != nil {
		snapshot, err = engine.Introspect(cmd.Context(), db, ns)
		if err != nil {
			return database.Wrapf(database.KindIntrospection, err, "failed to introspect %s", ns)
		}
	}

	out, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
