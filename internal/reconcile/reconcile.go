// Package reconcile runs one reconciliation: it builds the canonical init
// script, validates it in a sandbox, compares the result with the live
// target and writes the init and migration artifacts the decision calls for.
package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/internal/decision"
	"github.com/lockplane/dbreconcile/internal/executor"
	"github.com/lockplane/dbreconcile/internal/logging"
	"github.com/lockplane/dbreconcile/internal/sandbox"
	"github.com/lockplane/dbreconcile/internal/schema"
	"github.com/lockplane/dbreconcile/internal/scripts"
)

// Default artifact names
const (
	DefaultInitFile      = "init.sql"
	DefaultMigrationFile = scripts.DefaultMigrationFile
)

// Status is how a run ended
type Status string

const (
	StatusNoOp               Status = "no-op"
	StatusMigrationGenerated Status = "migration-generated"
	StatusResetPerformed     Status = "reset-performed"
	StatusSkipped            Status = "skipped"
)

// Options are the explicit inputs of a run. Nothing is read from the
// environment.
type Options struct {
	// ScriptsDir holds the versioned schema scripts
	ScriptsDir string
	// OutputDir receives the init and migration artifacts
	OutputDir string
	// InitFile and MigrationFile name the artifacts inside OutputDir
	InitFile      string
	MigrationFile string
	// AuthoredMigration is the operator's migration script. Defaults to
	// migration.sql inside ScriptsDir; that file is never collected as a
	// schema script.
	AuthoredMigration string

	Target database.Target
	// Namespace to reconcile. Defaults to the engine's default namespace.
	Namespace string
	// Engine overrides the engine detected from Target
	Engine database.Engine

	// ResetAllowed permits recreating a drifted local target
	ResetAllowed bool
	// ReconcileDatabase enables everything past writing the init artifact
	ReconcileDatabase bool
	// SkipCheck skips the offline syntax check of the scripts
	SkipCheck bool

	Logger *zap.Logger
}

// Result is what a successful run reports
type Result struct {
	Status        Status             `json:"status"`
	Decision      *decision.Decision `json:"decision,omitempty"`
	Diff          *schema.SchemaDiff `json:"diff,omitempty"`
	Sandbox       string             `json:"sandbox,omitempty"`
	InitPath      string             `json:"init_path"`
	MigrationPath string             `json:"migration_path,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

// PolicyError is a refusal to proceed together with what the operator can do
// about it. It matches database.ErrPolicy.
type PolicyError struct {
	Err         error
	Diff        *schema.SchemaDiff
	Remediation string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Diff)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// Run performs one reconciliation. On failure no artifact is written.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.OutputDir == "" {
		return nil, database.Wrap(database.KindInput, "validate options", errors.New("no output directory given"))
	}
	if opts.ReconcileDatabase {
		if err := requireTarget(opts); err != nil {
			return nil, err
		}
	}

	p, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	opts, logger := p.opts, p.logger

	initPath := filepath.Join(opts.OutputDir, opts.InitFile)
	migrationPath := filepath.Join(opts.OutputDir, opts.MigrationFile)

	if !opts.ReconcileDatabase {
		if err := writeArtifacts(opts.OutputDir, []artifact{{path: initPath, content: p.initScript}}, nil); err != nil {
			return nil, err
		}
		logger.Info("database reconciliation skipped", zap.String("init", initPath))
		return &Result{Status: StatusSkipped, InitPath: initPath}, nil
	}

	c, err := p.compare(ctx)
	if err != nil {
		return nil, err
	}

	authored, hasMigration, err := readAuthoredMigration(opts.AuthoredMigration)
	if err != nil {
		return nil, err
	}

	d := decision.Decide(decision.Input{
		TargetHasData:            c.live.HasData(),
		Diff:                     c.diff,
		MigrationScriptAvailable: hasMigration,
		IsLocalTarget:            opts.Target.IsLocal(),
		ResetAllowed:             opts.ResetAllowed,
	})
	logger.Debug("decided", zap.String("action", string(d.Action)), zap.String("reason", d.Reason))

	result := &Result{
		Decision: &d,
		Diff:     c.diff,
		Sandbox:  c.sandbox,
		InitPath: initPath,
	}
	files := []artifact{{path: initPath, content: p.initScript}}
	var remove []string

	switch d.Action {
	case decision.NoOp:
		result.Status = StatusNoOp
		remove = append(remove, migrationPath)
	case decision.FullReset:
		result.Status = StatusResetPerformed
		result.MigrationPath = migrationPath
		files = append(files, artifact{path: migrationPath, content: p.initScript})
	case decision.AppendMigration:
		result.Status = StatusMigrationGenerated
		result.MigrationPath = migrationPath
		files = append(files, artifact{path: migrationPath, content: scripts.Migration(p.engine.Preamble(), authored)})
		if scanner, ok := p.engine.(database.MigrationScanner); ok {
			result.Warnings = scanner.ScanMigration(opts.AuthoredMigration, authored)
		}
	default:
		return nil, policyError(d, c.diff, opts)
	}

	if err := writeArtifacts(opts.OutputDir, files, remove); err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		logger.Warn("destructive statement in migration", zap.String("warning", w))
	}
	logger.Info("reconciliation finished", zap.String("status", string(result.Status)))
	return result, nil
}

// Compare runs the schema scripts in a sandbox and diffs the sandbox against
// the target, the same way Run does, without deciding or writing anything.
// OutputDir, the artifact names and ReconcileDatabase are ignored.
func Compare(ctx context.Context, opts Options) (*schema.SchemaDiff, error) {
	if err := requireTarget(opts); err != nil {
		return nil, err
	}
	p, err := prepare(opts)
	if err != nil {
		return nil, err
	}
	c, err := p.compare(ctx)
	if err != nil {
		return nil, err
	}
	return c.diff, nil
}

// prepared is a validated run with its canonical init script built
type prepared struct {
	opts       Options
	engine     database.Engine
	logger     *zap.Logger
	initScript string
	sourceMap  *scripts.SourceMap
}

// comparison is the live target measured against the sandbox
type comparison struct {
	live    *database.Snapshot
	diff    *schema.SchemaDiff
	sandbox string
}

// prepare validates options, resolves the engine, collects and checks the
// scripts and builds the init script
func prepare(opts Options) (*prepared, error) {
	logger := logging.OrNop(opts.Logger)

	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	engine := opts.Engine
	if engine == nil {
		if engine, err = executor.EngineFor(opts.Target); err != nil {
			return nil, err
		}
	}
	if opts.Namespace == "" {
		opts.Namespace = engine.DefaultNamespace()
	}

	collected, err := scripts.Collect(opts.ScriptsDir, filepath.Base(opts.AuthoredMigration))
	if err != nil {
		return nil, err
	}
	logger.Debug("collected scripts", zap.String("dir", opts.ScriptsDir), zap.Int("count", len(collected)))

	if !opts.SkipCheck {
		if err := checkScripts(engine, collected); err != nil {
			return nil, err
		}
	}

	initScript, sourceMap := scripts.BuildWithSourceMap(engine.Preamble(), collected)
	return &prepared{
		opts:       opts,
		engine:     engine,
		logger:     logger,
		initScript: initScript,
		sourceMap:  sourceMap,
	}, nil
}

// compare opens the target, introspects it and diffs it against a sandbox
// populated with the init script
func (p *prepared) compare(ctx context.Context) (*comparison, error) {
	engine, opts, logger := p.engine, p.opts, p.logger

	logger.Info("reconciling database",
		zap.String("engine", engine.Name()),
		zap.String("target", logging.SanitizeConnectionString(opts.Target.URL)),
		zap.String("namespace", opts.Namespace))

	db, err := engine.Open(ctx, opts.Target)
	switch {
	case errors.Is(err, database.ErrNoNamespace):
		db = nil
	case err != nil:
		return nil, err
	default:
		defer closeDB(db, logger)
	}

	live, err := introspectLive(ctx, engine, db, opts.Namespace)
	if err != nil {
		return nil, err
	}

	c := &comparison{live: live}
	err = sandbox.With(ctx, engine, db, p.initScript, sandbox.Options{SourceMap: p.sourceMap, Logger: logger}, func(h *sandbox.Handle) error {
		c.sandbox = h.Name
		desired, err := engine.Introspect(ctx, h.DB, h.Schema)
		if err != nil {
			return database.Wrapf(database.KindIntrospection, err, "failed to introspect sandbox %s", h.Name)
		}
		c.diff = schema.Diff(live, desired)
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("compared target with sandbox", zap.String("sandbox", c.sandbox), zap.Stringer("diff", c.diff))
	return c, nil
}

func (o Options) withDefaults() (Options, error) {
	if o.ScriptsDir == "" {
		return o, database.Wrap(database.KindInput, "validate options", errors.New("no scripts directory given"))
	}
	if o.Engine == nil {
		if err := requireTarget(o); err != nil {
			return o, err
		}
	}
	if o.InitFile == "" {
		o.InitFile = DefaultInitFile
	}
	if o.MigrationFile == "" {
		o.MigrationFile = DefaultMigrationFile
	}
	o.AuthoredMigration = AuthoredMigrationPath(o.ScriptsDir, o.AuthoredMigration)
	return o, nil
}

// AuthoredMigrationPath returns the authored migration script: path when
// given, otherwise migration.sql inside scriptsDir. Collecting scripts must
// skip its base name.
func AuthoredMigrationPath(scriptsDir, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(scriptsDir, scripts.DefaultMigrationFile)
}

func requireTarget(o Options) error {
	if strings.TrimSpace(o.Target.URL) == "" {
		return database.Wrap(database.KindInput, "validate options", errors.New("no database connection string given"))
	}
	return nil
}

// checkScripts syntax-checks every script when the engine can do that
// offline
func checkScripts(engine database.Engine, collected []scripts.Script) error {
	checker, ok := engine.(database.Checker)
	if !ok {
		return nil
	}
	var errs []error
	for _, s := range collected {
		if err := checker.CheckScript(s.Path, s.Content); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return database.Wrap(database.KindInput, "failed to check scripts", errors.Join(errs...))
	}
	return nil
}

// introspectLive reads the target. A target that does not exist yet is an
// empty snapshot.
func introspectLive(ctx context.Context, engine database.Engine, db *sql.DB, namespace string) (*database.Snapshot, error) {
	if db == nil {
		return &database.Snapshot{Namespace: namespace, Dialect: engine.Dialect()}, nil
	}
	snap, err := engine.Introspect(ctx, db, namespace)
	if err != nil {
		return nil, database.Wrapf(database.KindIntrospection, err, "failed to introspect %s", namespace)
	}
	return snap, nil
}

// readAuthoredMigration returns the authored migration, if there is one. A
// blank file counts as no migration.
func readAuthoredMigration(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, database.Wrap(database.KindInput, "failed to read migration script", err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return "", false, nil
	}
	return content, true, nil
}

func policyError(d decision.Decision, diff *schema.SchemaDiff, opts Options) error {
	switch d.Reason {
	case decision.ReasonRemoteResetForbidden:
		return &PolicyError{
			Err:         database.ErrRemoteResetForbidden,
			Diff:        diff,
			Remediation: fmt.Sprintf("add %s describing the change; remote targets are never reset", opts.AuthoredMigration),
		}
	default:
		return &PolicyError{
			Err:         database.ErrResetNotPermitted,
			Diff:        diff,
			Remediation: fmt.Sprintf("add %s, or pass --allow-reset to recreate the target (local targets only)", opts.AuthoredMigration),
		}
	}
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database connection", zap.Error(err))
	}
}
