package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/internal/config"
	"github.com/lockplane/dbreconcile/internal/executor"
	"github.com/lockplane/dbreconcile/internal/logging"
	"github.com/lockplane/dbreconcile/internal/reconcile"
)

// loadSettings layers dbreconcile.toml, the selected environment, the
// DBRECONCILE_* variables and the global flags
func loadSettings() (*config.Settings, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	overrides, err := config.ParseOverrides(nil)
	if err != nil {
		return nil, err
	}
	if overrides.Verbose {
		flagVerbose = true
	}

	settings, err := config.Resolve(cfg, strings.TrimSpace(flagEnvironment), overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment: %w", err)
	}
	if db := strings.TrimSpace(flagDB); db != "" {
		settings.DatabaseURL = db
	}
	return settings, nil
}

func newLogger() *zap.Logger {
	logger, err := logging.New(flagVerbose)
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func target(settings *config.Settings) database.Target {
	return database.Target{URL: settings.DatabaseURL, Local: settings.Local}
}

// requireDatabase fails when no connection string was configured
func requireDatabase(settings *config.Settings) error {
	if strings.TrimSpace(settings.DatabaseURL) != "" {
		return nil
	}
	return database.Wrap(database.KindInput, "resolve target", fmt.Errorf(
		"no database connection configured; pass --db, set DBRECONCILE_DATABASE_URL or configure environment %q in %s / .env.%s",
		settings.Environment, config.FileName, settings.Environment))
}

// openTarget opens the configured target with its engine. The returned db is
// nil when the target does not exist yet.
func openTarget(ctx context.Context, settings *config.Settings) (database.Engine, *sql.DB, error) {
	if err := requireDatabase(settings); err != nil {
		return nil, nil, err
	}
	t := target(settings)
	engine, err := executor.EngineFor(t)
	if err != nil {
		return nil, nil, err
	}
	db, err := engine.Open(ctx, t)
	if errors.Is(err, database.ErrNoNamespace) {
		return engine, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return engine, db, nil
}

func namespace(engine database.Engine, settings *config.Settings) string {
	if settings.Namespace != "" {
		return settings.Namespace
	}
	return engine.DefaultNamespace()
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database connection", zap.Error(err))
	}
}

// printError prints the cause and, for policy refusals, what to do next
func printError(err error) {
	red := color.New(color.FgRed, color.Bold)
	kind := database.KindOf(err)
	label := "Error"
	if kind != database.KindUnknown {
		label = kind.String()
	}
	_, _ = red.Fprintf(os.Stderr, "✗ %s: ", label)
	fmt.Fprintln(os.Stderr, logging.SanitizeConnectionString(err.Error()))

	var pe *reconcile.PolicyError
	if errors.As(err, &pe) {
		_, _ = color.New(color.FgYellow).Fprintf(os.Stderr, "  → %s\n", pe.Remediation)
	}
}

func success(cmd *cobra.Command, format string, args ...any) {
	_, _ = color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "✓ "+format+"\n", args...)
}

func warn(cmd *cobra.Command, format string, args ...any) {
	_, _ = color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "⚠ "+format+"\n", args...)
}
