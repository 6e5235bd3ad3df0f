// ABOUTME: Pending OAuth flow persistence with single-use claim semantics
// ABOUTME: Flows carry the PKCE verifier between authorize redirect and callback

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateFlow persists a pending OAuth flow. A flow already exists for the
// attempt id -> ErrConflict.
func (s *SQLiteStore) CreateFlow(ctx context.Context, flow *OAuthFlow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_flows (attempt_id, user_id, server_id, verifier, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		flow.AttemptID,
		flow.UserID,
		flow.ServerID,
		flow.Verifier,
		flow.CreatedAt.UTC().Format(time.RFC3339),
		flow.ExpiresAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting oauth flow: %w", err)
	}
	s.logger.Debug("created oauth flow", "attempt", flow.AttemptID, "server", flow.ServerID)
	return nil
}

// ClaimFlow claims the pending flow for an attempt exactly once. The claim
// is a conditional update, so a replayed callback loses the race and gets
// ErrConflict, as does a flow past its expiry. Unknown attempts return
// ErrNotFound.
func (s *SQLiteStore) ClaimFlow(ctx context.Context, attemptID string, now time.Time) (*OAuthFlow, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE oauth_flows
		SET claimed_at = ?
		WHERE attempt_id = ? AND claimed_at IS NULL AND expires_at > ?
	`, nowStr, attemptID, nowStr)
	if err != nil {
		return nil, fmt.Errorf("claiming oauth flow: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM oauth_flows WHERE attempt_id = ?`, attemptID).Scan(&exists)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("checking oauth flow: %w", err)
		}
		return nil, ErrConflict
	}

	flow := &OAuthFlow{AttemptID: attemptID}
	var createdAtStr, expiresAtStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, server_id, verifier, created_at, expires_at
		FROM oauth_flows
		WHERE attempt_id = ?
	`, attemptID).Scan(&flow.UserID, &flow.ServerID, &flow.Verifier, &createdAtStr, &expiresAtStr)
	if err != nil {
		return nil, fmt.Errorf("loading claimed oauth flow: %w", err)
	}
	if flow.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if flow.ExpiresAt, err = time.Parse(time.RFC3339, expiresAtStr); err != nil {
		return nil, fmt.Errorf("parsing expires_at: %w", err)
	}
	s.logger.Debug("claimed oauth flow", "attempt", attemptID)
	return flow, nil
}

// PruneFlows deletes flows past their expiry and returns how many went.
// Called opportunistically when new flows are started; there is no sweeper.
func (s *SQLiteStore) PruneFlows(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM oauth_flows WHERE expires_at <= ?
	`, now.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning oauth flows: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Debug("pruned oauth flows", "count", rows)
	}
	return rows, nil
}
