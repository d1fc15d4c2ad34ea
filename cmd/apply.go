package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/database/sqlite"
	"github.com/lockplane/dbreconcile/internal/config"
	"github.com/lockplane/dbreconcile/internal/logging"
)

var (
	applyYes       bool
	applyReset     bool
	applyNamespace string
)

var applyCmd = &cobra.Command{
	Use:   "apply <artifact.sql>",
	Short: "Execute a generated init or migration script against the target",
	Long: `Substitute the schema placeholder and execute a generated script against the
target in one transaction, the same way the sandbox runs it.

With --reset the target namespace is dropped and recreated first; that is
only permitted for local targets.`,
	Example: `  dbreconcile apply build/migration.sql --yes
  dbreconcile apply build/init.sql --db ./app.db --reset --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().BoolVar(&applyYes, "yes", false, "Confirm execution against the target")
	applyCmd.Flags().BoolVar(&applyReset, "reset", false, "Drop and recreate the target namespace first (local targets only)")
	applyCmd.Flags().StringVar(&applyNamespace, "namespace", "", "Schema to apply to (default public for PostgreSQL, main for SQLite)")
}

func runApply(cmd *cobra.Command, args []string) error {
	if !applyYes {
		return database.Wrap(database.KindInput, "apply", errors.New("refusing to execute without --yes"))
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return database.Wrap(database.KindInput, "failed to read script", err)
	}

	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if applyNamespace != "" {
		settings.Namespace = applyNamespace
	}
	t := target(settings)
	if applyReset && !t.IsLocal() {
		return database.ErrRemoteResetForbidden
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	engine, db, err := openTarget(cmd.Context(), settings)
	if err != nil {
		return err
	}
	ns := namespace(engine, settings)

	if engine.Dialect() == database.DialectSQLite {
		db, err = prepareSQLiteTarget(cmd.Context(), engine, db, settings, logger)
	} else {
		err = preparePostgresTarget(cmd.Context(), engine, db, ns)
	}
	if err != nil {
		closeDB(db, logger)
		return err
	}
	defer closeDB(db, logger)

	logger.Info("applying script",
		zap.String("script", args[0]),
		zap.String("target", logging.SanitizeConnectionString(settings.DatabaseURL)),
		zap.String("namespace", ns))

	if err := engine.ExecScript(cmd.Context(), db, ns, string(data)); err != nil {
		return fmt.Errorf("failed to apply %s: %w", args[0], err)
	}
	success(cmd, "Applied %s to %s", args[0], ns)
	return nil
}

// preparePostgresTarget creates the schema when it is missing, or recreates
// it under --reset
func preparePostgresTarget(ctx context.Context, engine database.Engine, db *sql.DB, ns string) error {
	if applyReset {
		if err := engine.DropNamespace(ctx, db, ns); err != nil {
			return err
		}
	} else {
		snap, err := engine.Introspect(ctx, db, ns)
		if err != nil {
			return err
		}
		if snap.Exists {
			return nil
		}
	}
	_, err := engine.CreateNamespace(ctx, db, ns)
	return err
}

// prepareSQLiteTarget creates the database file when it is missing, or
// recreates it under --reset. Remote libSQL databases cannot be recreated.
func prepareSQLiteTarget(ctx context.Context, engine database.Engine, db *sql.DB, settings *config.Settings, logger *zap.Logger) (*sql.DB, error) {
	if driverType, _ := database.DetectDriver(settings.DatabaseURL); driverType == "libsql" {
		if applyReset {
			return db, database.ErrRemoteResetForbidden
		}
		return db, nil
	}
	if db != nil && !applyReset {
		return db, nil
	}

	path := sqlite.FilePath(settings.DatabaseURL)
	if db != nil {
		closeDB(db, logger)
		if err := sqlite.RemoveDatabaseFiles(path); err != nil {
			return nil, fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, database.Wrapf(database.KindConnection, err, "failed to create %s", path)
	}
	_ = f.Close()
	return engine.Open(ctx, target(settings))
}
