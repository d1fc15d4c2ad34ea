package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/lockplane/dbreconcile/database"
)

// Exit statuses
const (
	exitPolicy = 1
	exitError  = 2
)

var (
	flagEnvironment string
	flagDB          string
	flagVerbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "dbreconcile",
	Short: "Reconcile a database with versioned SQL schema scripts",
	Long: `dbreconcile builds a canonical init script from a directory of versioned SQL
scripts, validates it in a throwaway sandbox, compares the result with a live
PostgreSQL or SQLite/libSQL database and decides whether the database is up to
date, needs the authored migration script, or may safely be recreated.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagEnvironment, "environment", "e", "", "Named environment from dbreconcile.toml (defaults to config default)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Database connection string (overrides environment selection)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 1 for a policy refusal or a diff under --exit-code, and 2 for
// anything else
func exitCode(err error) int {
	if errors.Is(err, database.ErrPolicy) || errors.Is(err, errDiffFound) {
		return exitPolicy
	}
	return exitError
}
