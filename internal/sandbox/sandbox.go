// Package sandbox populates throwaway namespaces with a canonical script so
// the desired schema can be introspected like any live target.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/internal/logging"
	"github.com/lockplane/dbreconcile/internal/scripts"
)

// Handle is a populated sandbox namespace. It belongs to one run and must be
// released on every exit path.
type Handle struct {
	// Name is the namespace name, unique per acquisition
	Name string
	// Schema is what to introspect through DB
	Schema string
	// DB reaches the namespace
	DB *sql.DB

	engine database.Engine
	parent *sql.DB
	owned  bool
	logger *zap.Logger

	once sync.Once
}

// Options tune an acquisition. The zero value is usable.
type Options struct {
	// SourceMap locates a failing statement in the source scripts
	SourceMap *scripts.SourceMap
	Logger    *zap.Logger
	// Now is used for the name's timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewName returns a fresh sandbox namespace name:
// dbreconcile_sbx_<unix seconds>_<8 hex>
func NewName(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d_%s", database.SandboxPrefix, now.Unix(), suffix)
}

// CreatedAt parses the creation time out of a sandbox name
func CreatedAt(name string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(name, database.SandboxPrefix)
	if !ok {
		return time.Time{}, false
	}
	secs, _, ok := strings.Cut(rest, "_")
	if !ok {
		return time.Time{}, false
	}
	n, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

// Acquire creates a uniquely named namespace and executes script in it. If
// the script fails the namespace is dropped before the error is returned.
func Acquire(ctx context.Context, engine database.Engine, db *sql.DB, script string, opts Options) (*Handle, error) {
	logger := logging.OrNop(opts.Logger)
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	name := NewName(now())
	ns, err := engine.CreateNamespace(ctx, db, name)
	if err != nil {
		return nil, database.Wrap(database.KindSandbox, "failed to create sandbox", err)
	}

	h := &Handle{
		Name:   ns.Name,
		Schema: ns.Schema,
		DB:     ns.DB,
		engine: engine,
		parent: db,
		owned:  ns.Owned,
		logger: logger,
	}
	logger.Debug("sandbox created", zap.String("sandbox", h.Name), zap.String("engine", engine.Name()))

	if err := engine.ExecScript(ctx, h.DB, h.Schema, script); err != nil {
		h.Release(ctx)
		rendered := database.RenderScript(script, engine.QuoteNamespace(h.Schema))
		return nil, database.Wrap(database.KindSandbox, "failed to populate sandbox", describeFailure(rendered, opts.SourceMap, err))
	}

	logger.Debug("sandbox populated", zap.String("sandbox", h.Name))
	return h, nil
}

// Release closes the sandbox's own connection, if any, and drops the
// namespace. Only the first call does anything. Failures are logged, never
// returned.
func (h *Handle) Release(ctx context.Context) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		// teardown must run even when the run was cancelled
		ctx := context.WithoutCancel(ctx)

		if h.owned && h.DB != nil {
			if err := h.DB.Close(); err != nil {
				h.logger.Warn("failed to close sandbox connection", zap.String("sandbox", h.Name), zap.Error(err))
			}
		}
		if err := h.engine.DropNamespace(ctx, h.parent, h.Name); err != nil {
			h.logger.Warn("failed to drop sandbox", zap.String("sandbox", h.Name), zap.Error(err))
			return
		}
		h.logger.Debug("sandbox dropped", zap.String("sandbox", h.Name))
	})
}

// With acquires a sandbox, calls fn with it and releases it however fn
// returns
func With(ctx context.Context, engine database.Engine, db *sql.DB, script string, opts Options, fn func(*Handle) error) error {
	h, err := Acquire(ctx, engine, db, script, opts)
	if err != nil {
		return err
	}
	defer h.Release(ctx)
	return fn(h)
}

// Sweep drops sandbox namespaces created before olderThan, left behind by
// runs that were killed. It returns the names it dropped.
func Sweep(ctx context.Context, engine database.Engine, db *sql.DB, olderThan time.Time, logger *zap.Logger) ([]string, error) {
	logger = logging.OrNop(logger)

	names, err := engine.ListNamespaces(ctx, db, database.SandboxPrefix)
	if err != nil {
		return nil, database.Wrap(database.KindSandbox, "failed to list sandboxes", err)
	}

	var dropped []string
	var errs []error
	for _, name := range names {
		created, ok := CreatedAt(name)
		if !ok || !created.Before(olderThan) {
			continue
		}
		if err := engine.DropNamespace(ctx, db, name); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Info("dropped stale sandbox", zap.String("sandbox", name), zap.Time("created", created))
		dropped = append(dropped, name)
	}
	if len(errs) > 0 {
		return dropped, database.Wrap(database.KindSandbox, "failed to drop stale sandboxes", errors.Join(errs...))
	}
	return dropped, nil
}

// describeFailure points a failed statement at its source script when the
// engine reported where it failed
func describeFailure(rendered string, sm *scripts.SourceMap, err error) error {
	var stmtErr *database.StatementError
	if !errors.As(err, &stmtErr) {
		return err
	}
	loc, ok := sm.LocateOffset(rendered, stmtErr.Offset)
	if !ok {
		return err
	}
	return fmt.Errorf("%s: %w", loc, err)
}
