package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/internal/reconcile"
)

var (
	diffScriptsDir string
	diffNamespace  string
	diffMigration  string
	diffExitCode   bool
)

// errDiffFound reports differences under --exit-code
var errDiffFound = errors.New("differences found")

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Show how the target differs from the schema scripts",
	Long: `Run the schema scripts in a sandbox, compare the sandbox with the target and
print the added, removed and changed objects as JSON. Nothing is written.`,
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVar(&diffScriptsDir, "scripts", "", "Directory of versioned .sql scripts (default from config, then ./schema)")
	diffCmd.Flags().StringVar(&diffNamespace, "namespace", "", "Schema to compare (default public for PostgreSQL, main for SQLite)")
	diffCmd.Flags().StringVar(&diffMigration, "migration", "", "Authored migration script, never run in the sandbox (default <scripts>/migration.sql)")
	diffCmd.Flags().BoolVar(&diffExitCode, "exit-code", false, "Exit with status 1 when there are differences")
}

func runDiff(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	if err := requireDatabase(settings); err != nil {
		return err
	}
	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	opts := reconcile.Options{
		ScriptsDir:        settings.ScriptsDir,
		AuthoredMigration: diffMigration,
		Target:            target(settings),
		Namespace:         settings.Namespace,
		Logger:            logger,
	}
	if diffScriptsDir != "" {
		opts.ScriptsDir = diffScriptsDir
	}
	if diffNamespace != "" {
		opts.Namespace = diffNamespace
	}

	diff, err := reconcile.Compare(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if !diff.HasChanges() {
		success(cmd, "No differences between the target and the schema scripts")
		return nil
	}
	out, err := json.MarshalIndent(diff, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal diff: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if diffExitCode {
		return errDiffFound
	}
	return nil
}
