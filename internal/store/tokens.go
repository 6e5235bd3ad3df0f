// ABOUTME: Sealed token blob persistence keyed by (user, server)
// ABOUTME: Blobs are opaque ciphertext here; sealing lives in the Vault

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PutToken stores or replaces the sealed token for a (user, server) pair
func (s *SQLiteStore) PutToken(ctx context.Context, userID, serverID string, sealed []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connection_tokens (user_id, server_id, sealed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, server_id) DO UPDATE SET
			sealed = excluded.sealed,
			updated_at = excluded.updated_at
	`, userID, serverID, sealed, now, now)
	if err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	s.logger.Debug("stored token", "user", userID, "server", serverID)
	return nil
}

// GetToken retrieves the sealed token for a (user, server) pair.
// Returns ErrNotFound if none is stored.
func (s *SQLiteStore) GetToken(ctx context.Context, userID, serverID string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sealed FROM connection_tokens
		WHERE user_id = ? AND server_id = ?
	`, userID, serverID).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}
	return sealed, nil
}

// DeleteToken removes any stored token for a (user, server) pair.
// Deleting an absent token is not an error.
func (s *SQLiteStore) DeleteToken(ctx context.Context, userID, serverID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM connection_tokens
		WHERE user_id = ? AND server_id = ?
	`, userID, serverID)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.logger.Debug("deleted token", "user", userID, "server", serverID)
	}
	return nil
}
