// ABOUTME: Store interfaces and data types for dockhand persistence
// ABOUTME: Defines Connection, Attempt, OAuthFlow structs and the per-concern store interfaces

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional state update matched no row,
// meaning the record was not in any of the expected states. Callers decide
// whether that means a lost race, a stale callback, or a bad request.
var ErrConflict = errors.New("connection state conflict")

// Connection states. The connections table enforces this set with a CHECK
// constraint, so no code path can persist a state outside it.
const (
	StateDisconnected = "disconnected"
	StateAuthorizing  = "authorizing"
	StateConnected    = "connected"
	StateVerified     = "verified"
	StateFailed       = "failed"
)

// States lists every connection state in lifecycle order
var States = []string{StateDisconnected, StateAuthorizing, StateConnected, StateVerified, StateFailed}

// ValidState reports whether s names a known connection state
func ValidState(s string) bool {
	switch s {
	case StateDisconnected, StateAuthorizing, StateConnected, StateVerified, StateFailed:
		return true
	}
	return false
}

// Connection is one per (user, server) pair. The persisted row is the
// source of truth across restarts; nothing caches it in memory.
type Connection struct {
	UserID      string
	ServerID    string
	State       string
	ConnectedAt *time.Time
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Attempt outcome values
const (
	AttemptPending = "pending"
	AttemptSuccess = "success"
	AttemptFailure = "failure"
)

// Attempt is the audit record of one authorization or launch attempt.
// Its ID is the handle BeginConnect hands back to the caller.
type Attempt struct {
	ID          string
	UserID      string
	ServerID    string
	Outcome     string
	Detail      string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// OAuthFlow is a pending authorization flow: the PKCE verifier and the
// attempt it belongs to, persisted so a callback can land on a different
// process than the one that started the flow. Claimed exactly once.
type OAuthFlow struct {
	AttemptID string
	UserID    string
	ServerID  string
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ConnectionStore persists connection records and performs the state
// transitions. Every transition method is a conditional update keyed on the
// expected current state(s); a miss returns ErrConflict and changes nothing.
type ConnectionStore interface {
	GetConnection(ctx context.Context, userID, serverID string) (*Connection, error)
	ListConnections(ctx context.Context, userID string, states ...string) ([]*Connection, error)

	// BeginConnection moves (userID, serverID) into authorizing, creating
	// the row on first contact. Valid from disconnected and failed.
	BeginConnection(ctx context.Context, userID, serverID string) error
	// CompleteConnectionSuccess moves authorizing -> connected and stamps
	// connected_at.
	CompleteConnectionSuccess(ctx context.Context, userID, serverID string) error
	// CompleteConnectionFailure moves authorizing -> failed and records the
	// diagnostic.
	CompleteConnectionFailure(ctx context.Context, userID, serverID, detail string) error
	// MarkVerified moves connected or verified -> verified.
	MarkVerified(ctx context.Context, userID, serverID string) error
	// MarkVerifyFailed moves connected or verified -> connected and records
	// the diagnostic; a failed probe never tears a connection down.
	MarkVerifyFailed(ctx context.Context, userID, serverID, detail string) error
	// Disconnect moves any non-disconnected state -> disconnected and
	// clears connected_at and last_error.
	Disconnect(ctx context.Context, userID, serverID string) error
}

// AttemptStore persists the attempt audit trail
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *Attempt) error
	GetAttempt(ctx context.Context, id string) (*Attempt, error)
	// CompleteAttempt records the outcome of a pending attempt; completing
	// a non-pending attempt returns ErrConflict.
	CompleteAttempt(ctx context.Context, id, outcome, detail string) error
	ListAttempts(ctx context.Context, userID, serverID string, limit int) ([]*Attempt, error)
}

// TokenStore persists sealed token blobs per (user, server). Blobs are
// opaque here; sealing and opening live in Vault.
type TokenStore interface {
	PutToken(ctx context.Context, userID, serverID string, sealed []byte) error
	GetToken(ctx context.Context, userID, serverID string) ([]byte, error)
	DeleteToken(ctx context.Context, userID, serverID string) error
}

// FlowStore persists pending OAuth flows
type FlowStore interface {
	CreateFlow(ctx context.Context, flow *OAuthFlow) error
	// ClaimFlow atomically claims the flow for the given attempt so a
	// replayed callback cannot consume it twice. Expired or already-claimed
	// flows return ErrConflict; unknown attempts return ErrNotFound.
	ClaimFlow(ctx context.Context, attemptID string, now time.Time) (*OAuthFlow, error)
	PruneFlows(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full persistence surface
type Store interface {
	ConnectionStore
	AttemptStore
	TokenStore
	FlowStore

	// Close releases any resources held by the store
	Close() error
}
