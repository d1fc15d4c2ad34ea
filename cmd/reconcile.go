package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/internal/executor"
	"github.com/lockplane/dbreconcile/internal/reconcile"
)

var (
	reconcileScriptsDir  string
	reconcileOutputDir   string
	reconcileNamespace   string
	reconcileAllowReset  bool
	reconcileNoDatabase  bool
	reconcileSkipCheck   bool
	reconcileOutputJSON  bool
	reconcileMigrationIn string
	reconcileEngine      string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Build init.sql and decide what migration.sql the target needs",
	Long: `Build the canonical init script from the scripts directory, validate it in a
sandbox namespace, compare the result with the target database and write:

  init.sql       always, the whole schema from scratch
  migration.sql  the authored migration when the target drifted, or a copy of
                 init.sql when the target is empty or may be reset

A drifted target without an authored migration is refused unless it is local
and --allow-reset is given.`,
	Example: `  # Reconcile the default environment
  dbreconcile reconcile

  # Reconcile a local database that may be recreated
  dbreconcile reconcile --db ./app.db --allow-reset

  # Only write init.sql
  dbreconcile reconcile --no-database`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().StringVar(&reconcileScriptsDir, "scripts", "", "Directory of versioned .sql scripts (default from config, then ./schema)")
	reconcileCmd.Flags().StringVar(&reconcileOutputDir, "out", "", "Directory the artifacts are written to (default from config, then ./build)")
	reconcileCmd.Flags().StringVar(&reconcileNamespace, "namespace", "", "Schema to reconcile (default public for PostgreSQL, main for SQLite)")
	reconcileCmd.Flags().StringVar(&reconcileMigrationIn, "migration", "", "Authored migration script (default <scripts>/migration.sql)")
	reconcileCmd.Flags().StringVar(&reconcileEngine, "engine", "postgres", "Engine whose preamble is used when no database is configured: postgres or sqlite")
	reconcileCmd.Flags().BoolVar(&reconcileAllowReset, "allow-reset", false, "Allow recreating a drifted local target")
	reconcileCmd.Flags().BoolVar(&reconcileNoDatabase, "no-database", false, "Skip database reconciliation and only write init.sql")
	reconcileCmd.Flags().BoolVar(&reconcileSkipCheck, "skip-check", false, "Skip the offline syntax check of the scripts")
	reconcileCmd.Flags().BoolVar(&reconcileOutputJSON, "json", false, "Print the result as JSON")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	opts := reconcile.Options{
		ScriptsDir:        settings.ScriptsDir,
		OutputDir:         settings.OutputDir,
		InitFile:          settings.InitFile,
		MigrationFile:     settings.MigrationFile,
		AuthoredMigration: reconcileMigrationIn,
		Target:            target(settings),
		Namespace:         settings.Namespace,
		ResetAllowed:      settings.AllowReset,
		ReconcileDatabase: settings.ReconcileDatabase,
		SkipCheck:         reconcileSkipCheck,
		Logger:            logger,
	}
	if reconcileScriptsDir != "" {
		opts.ScriptsDir = reconcileScriptsDir
	}
	if reconcileOutputDir != "" {
		opts.OutputDir = reconcileOutputDir
	}
	if reconcileNamespace != "" {
		opts.Namespace = reconcileNamespace
	}
	if cmd.Flags().Changed("allow-reset") {
		opts.ResetAllowed = reconcileAllowReset
	}
	if reconcileNoDatabase {
		opts.ReconcileDatabase = false
	}
	if opts.ReconcileDatabase {
		if err := requireDatabase(settings); err != nil {
			return err
		}
	} else if opts.Target.URL == "" {
		if opts.Engine, err = executor.NewEngine(reconcileEngine); err != nil {
			return err
		}
	}

	result, err := reconcile.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if reconcileOutputJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	for _, w := range result.Warnings {
		warn(cmd, "%s", w)
	}
	switch result.Status {
	case reconcile.StatusSkipped:
		success(cmd, "Wrote %s (database reconciliation skipped)", result.InitPath)
	case reconcile.StatusNoOp:
		success(cmd, "Database is up to date; wrote %s", result.InitPath)
	case reconcile.StatusMigrationGenerated:
		success(cmd, "Drift detected (%s); wrote %s from the authored migration", result.Diff, result.MigrationPath)
	case reconcile.StatusResetPerformed:
		success(cmd, "Target will be recreated; wrote %s and %s", result.InitPath, result.MigrationPath)
	}
	return nil
}
