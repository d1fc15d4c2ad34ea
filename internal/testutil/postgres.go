// Package testutil provides shared fixtures for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage is the server image used when DATABASE_URL is not set
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared PostgreSQL server and an open pool to it
type TestDB struct {
	Container testcontainers.Container // nil when DATABASE_URL is used
	DB        *sql.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a PostgreSQL server shared by every test in the run.
// DATABASE_URL wins when set; otherwise a container is started once. The
// test is skipped in short mode or when no server can be reached.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires PostgreSQL)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Skipf("Skipping integration test: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		db, err := open(ctx, connStr)
		if err != nil {
			return nil, err
		}
		return &TestDB{DB: db, ConnStr: connStr}, nil
	}

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "dbreconcile",
			"POSTGRES_USER":     "dbreconcile",
			"POSTGRES_PASSWORD": "test_password",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://dbreconcile:test_password@%s:%s/dbreconcile?sslmode=disable",
		host, port.Port())

	db, err := open(ctx, connStr)
	if err != nil {
		return nil, err
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

func open(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection with retry
	for i := 0; i < 10; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	_ = db.Close()
	return nil, fmt.Errorf("database not available: %w", err)
}

// Schema creates an empty schema with a unique name and drops it when the
// test ends.
func (tdb *TestDB) Schema(t *testing.T) string {
	t.Helper()

	name := "it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	ctx := context.Background()
	if _, err := tdb.DB.ExecContext(ctx, `CREATE SCHEMA "`+name+`"`); err != nil {
		t.Fatalf("failed to create schema %s: %v", name, err)
	}
	t.Cleanup(func() {
		_, _ = tdb.DB.ExecContext(context.Background(), `DROP SCHEMA IF EXISTS "`+name+`" CASCADE`)
	})
	return name
}
