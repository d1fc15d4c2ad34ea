// Package executor selects the storage engine for a target.
package executor

import (
	"fmt"

	"github.com/lockplane/dbreconcile/database"
	"github.com/lockplane/dbreconcile/database/postgres"
	"github.com/lockplane/dbreconcile/database/sqlite"
)

// NewEngine creates the engine for a driver type: "postgres", "sqlite" or
// "libsql". libSQL targets share the SQLite engine.
func NewEngine(driverType string) (database.Engine, error) {
	switch driverType {
	case "postgres", "postgresql":
		return postgres.NewDriver(), nil
	case "sqlite", "sqlite3", "libsql":
		return sqlite.NewDriver(), nil
	default:
		return nil, database.Wrap(database.KindInput, "select engine", fmt.Errorf("unsupported database driver: %s", driverType))
	}
}

// EngineFor detects the driver type of a target and returns its engine. An
// unrecognized connection string is an input error.
func EngineFor(target database.Target) (database.Engine, error) {
	driverType, err := database.DetectDriver(target.URL)
	if err != nil {
		return nil, err
	}
	return NewEngine(driverType)
}
