// ABOUTME: Attempt audit trail persistence for authorization and launch attempts
// ABOUTME: Attempts are created pending and completed exactly once with an outcome

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAttempt inserts a new attempt record
func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_attempts (id, user_id, server_id, outcome, detail, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		attempt.ID,
		attempt.UserID,
		attempt.ServerID,
		attempt.Outcome,
		nullString(attempt.Detail),
		attempt.StartedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting attempt: %w", err)
	}
	s.logger.Debug("created attempt", "id", attempt.ID, "user", attempt.UserID, "server", attempt.ServerID)
	return nil
}

// GetAttempt retrieves an attempt by id. Returns ErrNotFound if missing.
func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, server_id, outcome, detail, started_at, completed_at
		FROM connection_attempts
		WHERE id = ?
	`, id)

	attempt, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attempt: %w", err)
	}
	return attempt, nil
}

// CompleteAttempt records the outcome of a pending attempt. A second
// completion returns ErrConflict; an unknown id returns ErrNotFound.
func (s *SQLiteStore) CompleteAttempt(ctx context.Context, id, outcome, detail string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE connection_attempts
		SET outcome = ?, detail = ?, completed_at = ?
		WHERE id = ? AND outcome = ?
	`, outcome, nullString(detail), now, id, AttemptPending)
	if err != nil {
		return fmt.Errorf("completing attempt: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := s.GetAttempt(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	s.logger.Debug("completed attempt", "id", id, "outcome", outcome)
	return nil
}

// ListAttempts returns the most recent attempts for a (user, server) pair,
// newest first. Limit defaults to 20 when non-positive.
func (s *SQLiteStore) ListAttempts(ctx context.Context, userID, serverID string, limit int) ([]*Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, server_id, outcome, detail, started_at, completed_at
		FROM connection_attempts
		WHERE user_id = ? AND server_id = ?
		ORDER BY started_at DESC, id
		LIMIT ?
	`, userID, serverID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*Attempt
	for rows.Next() {
		attempt, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func scanAttempt(scan func(dest ...any) error) (*Attempt, error) {
	var attempt Attempt
	var detail, completedAt sql.NullString
	var startedAtStr string

	err := scan(
		&attempt.ID,
		&attempt.UserID,
		&attempt.ServerID,
		&attempt.Outcome,
		&detail,
		&startedAtStr,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if detail.Valid {
		attempt.Detail = detail.String
	}
	attempt.StartedAt, err = time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		attempt.CompletedAt = &t
	}
	return &attempt, nil
}
