package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/database/postgres"
	"github.com/lockplane/dbreconcile/internal/diagnostic"
	"github.com/lockplane/dbreconcile/internal/executor"
	"github.com/lockplane/dbreconcile/internal/reconcile"
	"github.com/lockplane/dbreconcile/internal/scripts"
)

var (
	checkScriptsDir string
	checkMigration  string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Syntax-check the schema scripts and the authored migration offline",
	Long: `Parse every schema script with the PostgreSQL parser and report errors with
their file, line and column. The authored migration is also scanned for
statements that delete data. No database connection is needed.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkScriptsDir, "scripts", "", "Directory of versioned .sql scripts (default from config, then ./schema)")
	checkCmd.Flags().StringVar(&checkMigration, "migration", "", "Authored migration script (default <scripts>/migration.sql)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if checkScriptsDir != "" {
		settings.ScriptsDir = checkScriptsDir
	}

	var engine database.Engine = postgres.NewDriver()
	if settings.DatabaseURL != "" {
		if engine, err = executor.EngineFor(target(settings)); err != nil {
			return err
		}
	}
	checker, ok := engine.(database.Checker)
	if !ok {
		warn(cmd, "Offline checking is not available for %s scripts", engine.Name())
		return nil
	}

	migrationPath := reconcile.AuthoredMigrationPath(settings.ScriptsDir, checkMigration)
	collected, err := collectSchemaScripts(settings.ScriptsDir, migrationPath)
	if err != nil {
		return err
	}

	failed := 0
	for _, s := range collected {
		err := checker.CheckScript(s.Path, s.Content)
		if err == nil {
			continue
		}
		failed++
		printCheckError(cmd, err)
	}

	if scanner, ok := engine.(database.MigrationScanner); ok {
		if data, err := os.ReadFile(migrationPath); err == nil {
			if err := checker.CheckScript(migrationPath, string(data)); err != nil {
				failed++
				printCheckError(cmd, err)
			}
			for _, w := range scanner.ScanMigration(migrationPath, string(data)) {
				warn(cmd, "%s", w)
			}
		}
	}

	if failed > 0 {
		return database.Wrap(database.KindInput, "check", fmt.Errorf("%d script(s) failed to parse", failed))
	}
	success(cmd, "%d script(s) parsed cleanly", len(collected))
	return nil
}

func printCheckError(cmd *cobra.Command, err error) {
	red := color.New(color.FgRed)
	var ce *diagnostic.CheckError
	if !errors.As(err, &ce) {
		_, _ = red.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
		return
	}
	for _, d := range ce.Diagnostics {
		_, _ = red.Fprintln(cmd.ErrOrStderr(), d.FormatMessage(ce.Source))
		fmt.Fprint(cmd.ErrOrStderr(), diagnostic.CodeContext(ce.Content, d.Range.Start))
	}
}

// collectSchemaScripts collects the schema scripts, leaving out the authored
// migration the same way a reconciliation does
func collectSchemaScripts(scriptsDir, migrationPath string) ([]scripts.Script, error) {
	return scripts.Collect(scriptsDir, filepath.Base(migrationPath))
}
