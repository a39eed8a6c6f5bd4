// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// PGTest returns a connection to a private schema in the database named by
// POSTGRES_URL, migrated to the latest version. The schema is dropped when
// the test ends, so Postgres-backed tests can run in parallel.
//
// Without POSTGRES_URL the test is skipped.
func PGTest(t *testing.T) *sql.DB {
	t.Helper()

	base := os.Getenv("POSTGRES_URL")
	if base == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}
	ctx := context.Background()
	schema := schemaName()

	admin, err := sql.Open("postgres", base)
	if err != nil {
		t.Fatalf("pgtest: open database: %v", err)
	}
	defer func() { _ = admin.Close() }()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("pgtest: create schema: %v", err)
	}

	dsn, err := withSearchPath(base, schema)
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("pgtest: open schema connection: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
		drop, err := sql.Open("postgres", base)
		if err != nil {
			return
		}
		defer func() { _ = drop.Close() }()
		_, _ = drop.ExecContext(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
	})

	provider, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(migrationsDir(t)))
	if err != nil {
		t.Fatalf("pgtest: load migrations: %v", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		t.Fatalf("pgtest: run migrations: %v", err)
	}
	return db
}

// schemaName is safe to splice into DDL: a fixed prefix and hex digits.
func schemaName() string {
	return "pgtest_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// withSearchPath points every connection opened from dsn at schema. Both
// URL and key=value connection strings are accepted.
func withSearchPath(dsn, schema string) (string, error) {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " search_path=" + schema, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse POSTGRES_URL: %w", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// migrationsDir walks up from the test's working directory to the module's
// migrations/ directory.
func migrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("pgtest: getwd: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("pgtest: no migrations/ directory above %s", dir)
		}
		dir = parent
	}
}
