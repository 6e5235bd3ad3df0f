// ABOUTME: Ordered, ledger-tracked application of SQL migration scripts
// ABOUTME: Each script runs in its own transaction; applied scripts never re-run

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"
)

// ScriptError reports which migration script failed and why
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Apply brings the database up to date from the *.sql scripts in fsys.
// Scripts run in lexicographic filename order (filenames carry a numeric
// prefix so that order is the intended order), each inside its own
// transaction. A ledger table records every applied filename; scripts
// already in the ledger are skipped, so re-running Apply on an up-to-date
// database is a no-op returning 0.
//
// The first failing script rolls back its own transaction only and aborts
// the run with a ScriptError. Scripts committed before the failure stay
// applied, and a later Apply resumes after them.
func Apply(ctx context.Context, db *sql.DB, fsys fs.FS) (int, error) {
	logger := slog.Default().With("component", "migrate")

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("creating migration ledger: %w", err)
	}

	scripts, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return 0, fmt.Errorf("discovering migration scripts: %w", err)
	}
	sort.Strings(scripts)

	applied := 0
	for _, script := range scripts {
		ran, err := applyScript(ctx, db, fsys, script)
		if err != nil {
			return applied, &ScriptError{Script: script, Err: err}
		}
		if ran {
			logger.Info("applied migration", "script", script)
			applied++
		}
	}
	return applied, nil
}

// applyScript runs one script in its own transaction, with the ledger
// check and the ledger insert inside that same transaction so a failed
// script leaves no ledger row behind.
func applyScript(ctx context.Context, db *sql.DB, fsys fs.FS, script string) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var seen int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM schema_migrations WHERE filename = ?`, script).Scan(&seen)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("checking ledger: %w", err)
	}

	contents, err := fs.ReadFile(fsys, script)
	if err != nil {
		return false, fmt.Errorf("reading script: %w", err)
	}

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
		script, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return false, fmt.Errorf("recording in ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}
	return true, nil
}
