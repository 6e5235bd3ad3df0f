// ABOUTME: Tests for ordered migration application and the applied-scripts ledger
// ABOUTME: Covers fresh runs, no-op re-runs, partial failure, and resume

package migrate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"dockhand/internal/store/migrations"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func script(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestApply_FreshDatabase(t *testing.T) {
	db := setupTestDB(t)
	fsys := fstest.MapFS{
		"0001_users.sql": script(`CREATE TABLE users (id TEXT PRIMARY KEY);`),
		"0002_seed.sql":  script(`INSERT INTO users (id) VALUES ('first');`),
		"0003_roles.sql": script(`CREATE TABLE roles (name TEXT PRIMARY KEY);`),
	}

	applied, err := Apply(context.Background(), db, fsys)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	// 0002 inserting into 0001's table proves lexicographic order held.
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.True(t, tableExists(t, db, "roles"))
}

func TestApply_Rerun_NoOps(t *testing.T) {
	db := setupTestDB(t)
	fsys := fstest.MapFS{
		"0001_users.sql": script(`CREATE TABLE users (id TEXT PRIMARY KEY);`),
		"0002_seed.sql":  script(`INSERT INTO users (id) VALUES ('first');`),
	}

	applied, err := Apply(context.Background(), db, fsys)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	// The ledger makes the second run a no-op: the non-idempotent insert
	// in 0002 does not run again.
	applied, err = Apply(context.Background(), db, fsys)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestApply_FailureAbortsRun(t *testing.T) {
	db := setupTestDB(t)
	fsys := fstest.MapFS{
		"0001_users.sql":  script(`CREATE TABLE users (id TEXT PRIMARY KEY);`),
		"0002_broken.sql": script(`CREATE TABLE broken (nope nope nope;`),
		"0003_roles.sql":  script(`CREATE TABLE roles (name TEXT PRIMARY KEY);`),
	}

	applied, err := Apply(context.Background(), db, fsys)
	require.Error(t, err)
	assert.Equal(t, 1, applied)

	var scriptErr *ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, "0002_broken.sql", scriptErr.Script)

	// Scripts before the failure stay committed; scripts after never ran.
	assert.True(t, tableExists(t, db, "users"))
	assert.False(t, tableExists(t, db, "roles"))

	// The failed script left no ledger row.
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM schema_migrations WHERE filename = '0002_broken.sql'`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestApply_ResumesAfterFailure(t *testing.T) {
	db := setupTestDB(t)
	broken := fstest.MapFS{
		"0001_users.sql":  script(`CREATE TABLE users (id TEXT PRIMARY KEY);`),
		"0002_broken.sql": script(`CREATE TABLE broken (nope nope nope;`),
	}
	_, err := Apply(context.Background(), db, broken)
	require.Error(t, err)

	fixed := fstest.MapFS{
		"0001_users.sql":  script(`CREATE TABLE users (id TEXT PRIMARY KEY);`),
		"0002_broken.sql": script(`CREATE TABLE broken (id TEXT PRIMARY KEY);`),
		"0003_roles.sql":  script(`CREATE TABLE roles (name TEXT PRIMARY KEY);`),
	}
	applied, err := Apply(context.Background(), db, fixed)
	require.NoError(t, err)
	assert.Equal(t, 2, applied, "only the fixed script and its successor run")
}

func TestApply_TransactionRollsBackFailedScript(t *testing.T) {
	db := setupTestDB(t)
	// The script creates a table and then fails: the whole script rolls
	// back, so the table must not exist afterwards.
	fsys := fstest.MapFS{
		"0001_partial.sql": script(`
			CREATE TABLE partial (id TEXT PRIMARY KEY);
			INSERT INTO missing_table (id) VALUES ('x');
		`),
	}

	_, err := Apply(context.Background(), db, fsys)
	require.Error(t, err)
	assert.False(t, tableExists(t, db, "partial"))
}

func TestApply_DefaultMigrationSet(t *testing.T) {
	db := setupTestDB(t)

	applied, err := Apply(context.Background(), db, migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, 4, applied)

	for _, table := range []string{"connections", "connection_attempts", "connection_tokens", "oauth_flows"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	applied, err = Apply(context.Background(), db, migrations.FS)
	require.NoError(t, err)
	assert.Equal(t, 0, applied)
}

func TestApply_StateCheckConstraint(t *testing.T) {
	db := setupTestDB(t)
	_, err := Apply(context.Background(), db, migrations.FS)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO connections (user_id, server_id, state, created_at, updated_at)
		VALUES ('u', 's', 'limbo', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')
	`)
	require.Error(t, err, "states outside the five named ones are rejected by the schema")
}
