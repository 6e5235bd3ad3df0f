// ABOUTME: SQLite implementation of the Store interfaces using modernc.org/sqlite
// ABOUTME: Connection rows move between states via conditional updates checked by rows-affected

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"dockhand/internal/store/migrate"
	"dockhand/internal/store/migrations"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at the given path
// and brings its schema up to date from the embedded migration set. Parent
// directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL for concurrent reads; busy_timeout so concurrent transitions
	// queue instead of failing with SQLITE_BUSY. Pragmas go in the DSN so
	// every pooled connection gets them, not just the one a plain Exec
	// happens to run on.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	applied, err := migrate.Apply(context.Background(), db, migrations.FS)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		logger.Info("applied migrations", "count", applied)
	}

	s := &SQLiteStore{db: db, logger: logger}
	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// DB exposes the underlying handle for the standalone migrate command
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetConnection retrieves the connection record for a (user, server) pair.
// Returns ErrNotFound if the pair has never been seen.
func (s *SQLiteStore) GetConnection(ctx context.Context, userID, serverID string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, server_id, state, connected_at, last_error, created_at, updated_at
		FROM connections
		WHERE user_id = ? AND server_id = ?
	`, userID, serverID)
	return scanConnection(row)
}

// ListConnections returns a user's connection records, optionally filtered
// to a set of states, ordered by server id for stable output.
func (s *SQLiteStore) ListConnections(ctx context.Context, userID string, states ...string) ([]*Connection, error) {
	query := `
		SELECT user_id, server_id, state, connected_at, last_error, created_at, updated_at
		FROM connections
		WHERE user_id = ?
	`
	args := []any{userID}
	if len(states) > 0 {
		query += ` AND state IN (?` + strings.Repeat(",?", len(states)-1) + `)`
		for _, st := range states {
			args = append(args, st)
		}
	}
	query += ` ORDER BY server_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		conn, err := scanConnectionRows(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// BeginConnection creates the (user, server) row if it does not exist and
// moves it into authorizing. The insert and the conditional update are
// separately race-safe: both racers may insert-or-ignore, but exactly one
// conditional update matches, so exactly one caller wins.
func (s *SQLiteStore) BeginConnection(ctx context.Context, userID, serverID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO connections (user_id, server_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, serverID, StateDisconnected, now, now)
	if err != nil {
		return fmt.Errorf("creating connection row: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, last_error = NULL, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state IN (?, ?)
	`, StateAuthorizing, now, userID, serverID, StateDisconnected, StateFailed)
	if err != nil {
		return fmt.Errorf("beginning connection: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("began connection", "user", userID, "server", serverID)
	return nil
}

// CompleteConnectionSuccess moves authorizing -> connected
func (s *SQLiteStore) CompleteConnectionSuccess(ctx context.Context, userID, serverID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, connected_at = ?, last_error = NULL, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state = ?
	`, StateConnected, now, now, userID, serverID, StateAuthorizing)
	if err != nil {
		return fmt.Errorf("completing connection: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("connection established", "user", userID, "server", serverID)
	return nil
}

// CompleteConnectionFailure moves authorizing -> failed with a diagnostic
func (s *SQLiteStore) CompleteConnectionFailure(ctx context.Context, userID, serverID, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, connected_at = NULL, last_error = ?, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state = ?
	`, StateFailed, nullString(detail), now, userID, serverID, StateAuthorizing)
	if err != nil {
		return fmt.Errorf("recording connection failure: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("connection failed", "user", userID, "server", serverID, "detail", detail)
	return nil
}

// MarkVerified moves connected or verified -> verified and clears any
// stale probe diagnostic
func (s *SQLiteStore) MarkVerified(ctx context.Context, userID, serverID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, last_error = NULL, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state IN (?, ?)
	`, StateVerified, now, userID, serverID, StateConnected, StateVerified)
	if err != nil {
		return fmt.Errorf("marking verified: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("connection verified", "user", userID, "server", serverID)
	return nil
}

// MarkVerifyFailed records a failed probe: connected or verified ->
// connected with the diagnostic. The connection itself stays up.
func (s *SQLiteStore) MarkVerifyFailed(ctx context.Context, userID, serverID, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, last_error = ?, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state IN (?, ?)
	`, StateConnected, nullString(detail), now, userID, serverID, StateConnected, StateVerified)
	if err != nil {
		return fmt.Errorf("recording verify failure: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("verify failed", "user", userID, "server", serverID, "detail", detail)
	return nil
}

// Disconnect moves any non-disconnected state -> disconnected and clears
// the connection timestamps and diagnostics
func (s *SQLiteStore) Disconnect(ctx context.Context, userID, serverID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET state = ?, connected_at = NULL, last_error = NULL, updated_at = ?
		WHERE user_id = ? AND server_id = ? AND state != ?
	`, StateDisconnected, now, userID, serverID, StateDisconnected)
	if err != nil {
		return fmt.Errorf("disconnecting: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConflict
	}
	s.logger.Debug("disconnected", "user", userID, "server", serverID)
	return nil
}

func scanConnection(row *sql.Row) (*Connection, error) {
	var conn Connection
	var connectedAt, lastError sql.NullString
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conn.UserID,
		&conn.ServerID,
		&conn.State,
		&connectedAt,
		&lastError,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection: %w", err)
	}
	return buildConnection(&conn, connectedAt, lastError, createdAtStr, updatedAtStr)
}

func scanConnectionRows(rows *sql.Rows) (*Connection, error) {
	var conn Connection
	var connectedAt, lastError sql.NullString
	var createdAtStr, updatedAtStr string

	err := rows.Scan(
		&conn.UserID,
		&conn.ServerID,
		&conn.State,
		&connectedAt,
		&lastError,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning connection: %w", err)
	}
	return buildConnection(&conn, connectedAt, lastError, createdAtStr, updatedAtStr)
}

func buildConnection(conn *Connection, connectedAt, lastError sql.NullString, createdAtStr, updatedAtStr string) (*Connection, error) {
	var err error
	if connectedAt.Valid {
		t, err := time.Parse(time.RFC3339, connectedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing connected_at: %w", err)
		}
		conn.ConnectedAt = &t
	}
	if lastError.Valid {
		conn.LastError = lastError.String
	}
	conn.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conn.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return conn, nil
}

// nullString converts empty strings to NULL for nullable columns
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}
