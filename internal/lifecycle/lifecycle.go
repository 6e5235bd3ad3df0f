// ABOUTME: Per-(user, server) connection state machine driven through store transitions
// ABOUTME: Maps store-level conflicts onto the caller-facing error taxonomy

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dockhand/internal/catalog"
	"dockhand/internal/metrics"
	"dockhand/internal/store"
)

// ErrAlreadyConnected is returned when beginning a connection for a pair
// that is already authorizing, connected, or verified
var ErrAlreadyConnected = errors.New("already connected")

// ErrNotConnected is returned when verify or disconnect targets a pair
// with no active connection
var ErrNotConnected = errors.New("not connected")

// ErrStaleTransition is returned when a completion arrives for a record no
// longer in authorizing. Duplicate and late OAuth callbacks are expected,
// so this is a reportable no-op, not a crash.
var ErrStaleTransition = errors.New("stale transition")

// ErrCredentialsUnavailable is returned when an OAuth server's client
// credentials are not configured in the environment
var ErrCredentialsUnavailable = errors.New("credentials unavailable")

// ErrServerDisabled is returned when the target server is disabled in the
// catalog
var ErrServerDisabled = errors.New("server disabled")

// ErrProbeFailed wraps capability probe failures surfaced by Verify
var ErrProbeFailed = errors.New("probe failed")

// Definitions is the catalog surface the tracker needs
type Definitions interface {
	Get(id string) (catalog.ServerDefinition, error)
}

// CredentialChecker reports whether an OAuth server is configured
type CredentialChecker interface {
	HasUsableCredentials(serverID string) bool
}

// Records is the store slice the tracker drives. All state transitions
// happen in the store as conditional updates; the tracker holds no state
// of its own, so it is correct under arbitrary request interleavings and
// across process restarts.
type Records interface {
	store.ConnectionStore
	store.AttemptStore
}

// TokenVault stores and clears token material for connected pairs
type TokenVault interface {
	Put(ctx context.Context, userID, serverID string, plaintext []byte) error
	Get(ctx context.Context, userID, serverID string) ([]byte, error)
	Delete(ctx context.Context, userID, serverID string) error
}

// ProbeRequest carries what a capability probe needs for either transport
type ProbeRequest struct {
	Def    catalog.ServerDefinition
	Token  []byte            // plaintext token material for authenticated stream servers
	Config map[string]string // user configuration for process servers
}

// Prober runs a live capability check against a server
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest) error
}

// ConnectResult is the outcome of an authorization flow or process launch
type ConnectResult struct {
	Success   bool
	Token     []byte // token material to seal on success, may be nil
	Reason    string // diagnostic on failure
	AttemptID string // attempt to complete in the audit trail, may be empty
}

// Succeeded builds a success result carrying token material
func Succeeded(token []byte) ConnectResult {
	return ConnectResult{Success: true, Token: token}
}

// Failed builds a failure result with a diagnostic
func Failed(reason string) ConnectResult {
	return ConnectResult{Reason: reason}
}

// Config wires a Tracker's collaborators
type Config struct {
	Definitions Definitions
	Credentials CredentialChecker
	Records     Records
	Vault       TokenVault
	Prober      Prober
	Metrics     *metrics.Metrics
}

// Tracker owns the connection state machine for every (user, server) pair
type Tracker struct {
	defs    Definitions
	creds   CredentialChecker
	records Records
	vault   TokenVault
	prober  Prober
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds a Tracker from its collaborators
func New(cfg Config) *Tracker {
	return &Tracker{
		defs:    cfg.Definitions,
		creds:   cfg.Credentials,
		records: cfg.Records,
		vault:   cfg.Vault,
		prober:  cfg.Prober,
		metrics: cfg.Metrics,
		logger:  slog.Default().With("component", "lifecycle"),
	}
}

// BeginConnect starts a connection attempt for (userID, serverID) and
// returns its attempt record as the caller's handle. The pair moves to
// authorizing; a pair already authorizing, connected, or verified fails
// with ErrAlreadyConnected, and when two callers race, the conditional
// store update picks exactly one winner. OAuth servers additionally fail
// fast with ErrCredentialsUnavailable before any state changes, so a
// missing client secret surfaces here instead of mid-redirect.
func (t *Tracker) BeginConnect(ctx context.Context, userID, serverID string) (*store.Attempt, error) {
	def, err := t.defs.Get(serverID)
	if err != nil {
		return nil, err
	}
	if !def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrServerDisabled, serverID)
	}
	if def.RequiresAuth && !t.creds.HasUsableCredentials(serverID) {
		return nil, fmt.Errorf("%w: set %s and %s", ErrCredentialsUnavailable,
			def.OAuth.ClientIDEnv, def.OAuth.ClientSecretEnv)
	}

	if err := t.records.BeginConnection(ctx, userID, serverID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrAlreadyConnected
		}
		return nil, err
	}

	attempt := &store.Attempt{
		ID:        uuid.New().String(),
		UserID:    userID,
		ServerID:  serverID,
		Outcome:   store.AttemptPending,
		StartedAt: time.Now().UTC(),
	}
	if err := t.records.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("recording attempt: %w", err)
	}

	t.metrics.RecordConnectStarted(ctx, serverID, string(def.Transport))
	t.logger.Info("connection attempt started",
		"user", userID, "server", serverID, "attempt", attempt.ID)
	return attempt, nil
}

// CompleteConnect applies the outcome of an authorization flow or launch.
// Success moves authorizing -> connected and seals the token material;
// failure moves authorizing -> failed with the diagnostic. A record not in
// authorizing reports ErrStaleTransition and stays untouched: this is
// where late and duplicated provider callbacks land.
func (t *Tracker) CompleteConnect(ctx context.Context, userID, serverID string, result ConnectResult) error {
	var err error
	if result.Success {
		err = t.records.CompleteConnectionSuccess(ctx, userID, serverID)
	} else {
		err = t.records.CompleteConnectionFailure(ctx, userID, serverID, result.Reason)
	}
	if errors.Is(err, store.ErrConflict) {
		t.finishAttempt(ctx, result.AttemptID, store.AttemptFailure, "stale transition")
		t.logger.Warn("stale connect completion ignored",
			"user", userID, "server", serverID, "success", result.Success)
		return ErrStaleTransition
	}
	if err != nil {
		return err
	}

	outcome := store.AttemptFailure
	if result.Success {
		outcome = store.AttemptSuccess
		if result.Token != nil && t.vault != nil {
			if err := t.vault.Put(ctx, userID, serverID, result.Token); err != nil {
				return fmt.Errorf("sealing token: %w", err)
			}
		}
	}
	t.finishAttempt(ctx, result.AttemptID, outcome, result.Reason)
	t.metrics.RecordConnectCompleted(ctx, serverID, outcome)
	t.logger.Info("connection attempt completed",
		"user", userID, "server", serverID, "outcome", outcome)
	return nil
}

// finishAttempt closes the audit record. Audit is best effort: a late
// completion of an already-closed attempt only logs.
func (t *Tracker) finishAttempt(ctx context.Context, attemptID, outcome, detail string) {
	if attemptID == "" {
		return
	}
	if err := t.records.CompleteAttempt(ctx, attemptID, outcome, detail); err != nil {
		t.logger.Warn("completing attempt record", "attempt", attemptID, "error", err)
	}
}

// Verify runs a live capability probe for an established connection.
// Success promotes the pair to verified; a probe failure records the
// diagnostic and leaves the pair connected, because a transient probe
// failure is not a disconnect. Pairs that are not connected or verified
// fail with ErrNotConnected.
func (t *Tracker) Verify(ctx context.Context, userID, serverID string, config map[string]string) error {
	def, err := t.defs.Get(serverID)
	if err != nil {
		return err
	}

	conn, err := t.records.GetConnection(ctx, userID, serverID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotConnected
	}
	if err != nil {
		return err
	}
	if conn.State != store.StateConnected && conn.State != store.StateVerified {
		return fmt.Errorf("%w: state is %s", ErrNotConnected, conn.State)
	}

	req := ProbeRequest{Def: def, Config: config}
	if def.Transport == catalog.TransportStream && def.RequiresAuth {
		token, err := t.vault.Get(ctx, userID, serverID)
		if err != nil {
			t.recordProbeFailure(ctx, userID, serverID, "stored token unavailable")
			return fmt.Errorf("%w: loading stored token: %v", ErrProbeFailed, err)
		}
		req.Token = token
	}

	if err := t.prober.Probe(ctx, req); err != nil {
		t.recordProbeFailure(ctx, userID, serverID, err.Error())
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	if err := t.records.MarkVerified(ctx, userID, serverID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrStaleTransition
		}
		return err
	}
	t.metrics.RecordProbe(ctx, serverID, true)
	t.logger.Info("connection verified", "user", userID, "server", serverID)
	return nil
}

func (t *Tracker) recordProbeFailure(ctx context.Context, userID, serverID, detail string) {
	if err := t.records.MarkVerifyFailed(ctx, userID, serverID, detail); err != nil {
		t.logger.Warn("recording probe failure", "user", userID, "server", serverID, "error", err)
	}
	t.metrics.RecordProbe(ctx, serverID, false)
}

// Disconnect tears down the pair from any non-disconnected state and
// deletes stored token material. Disconnecting an already-disconnected or
// never-seen pair fails with ErrNotConnected, which keeps double
// disconnect races visible to callers.
func (t *Tracker) Disconnect(ctx context.Context, userID, serverID string) error {
	if err := t.records.Disconnect(ctx, userID, serverID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrNotConnected
		}
		return err
	}
	if t.vault != nil {
		if err := t.vault.Delete(ctx, userID, serverID); err != nil {
			return fmt.Errorf("clearing token material: %w", err)
		}
	}
	t.metrics.RecordDisconnect(ctx, serverID)
	t.logger.Info("disconnected", "user", userID, "server", serverID)
	return nil
}

// Get returns the persisted record for one pair. Returns store.ErrNotFound
// for pairs that have never connected.
func (t *Tracker) Get(ctx context.Context, userID, serverID string) (*store.Connection, error) {
	return t.records.GetConnection(ctx, userID, serverID)
}

// List returns a user's connection records, optionally filtered by state.
// Results come straight from the store, so a tracker that just restarted
// answers accurately.
func (t *Tracker) List(ctx context.Context, userID string, states ...string) ([]*store.Connection, error) {
	for _, st := range states {
		if !store.ValidState(st) {
			return nil, fmt.Errorf("unknown state %q", st)
		}
	}
	return t.records.ListConnections(ctx, userID, states...)
}

// Attempts returns the recent attempt audit trail for one pair
func (t *Tracker) Attempts(ctx context.Context, userID, serverID string, limit int) ([]*store.Attempt, error) {
	return t.records.ListAttempts(ctx, userID, serverID, limit)
}
