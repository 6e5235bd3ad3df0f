// ABOUTME: Tests for the connection lifecycle tracker state machine
// ABOUTME: Runs against a real SQLite store with a fake capability prober

package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/catalog"
	"dockhand/internal/credentials"
	"dockhand/internal/store"
)

type fakeProber struct {
	err   error
	calls int
	last  ProbeRequest
}

func (p *fakeProber) Probe(ctx context.Context, req ProbeRequest) error {
	p.calls++
	p.last = req
	return p.err
}

type fixture struct {
	tracker *Tracker
	store   *store.SQLiteStore
	vault   *store.Vault
	prober  *fakeProber
}

func setupTracker(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	encoded, err := store.GenerateVaultKey()
	require.NoError(t, err)
	key, err := store.ParseVaultKey(encoded)
	require.NoError(t, err)
	vault, err := store.NewVault(s, key)
	require.NoError(t, err)

	cat, err := catalog.Default()
	require.NoError(t, err)

	source := credentials.Static{
		"GITHUB_CLIENT_ID":     "iv1.abc",
		"GITHUB_CLIENT_SECRET": "shhh",
		"GDRIVE_CLIENT_ID":     "gd-id",
		"GDRIVE_CLIENT_SECRET": "gd-secret",
	}

	prober := &fakeProber{}
	tracker := New(Config{
		Definitions: cat,
		Credentials: credentials.NewResolver(cat, source),
		Records:     s,
		Vault:       vault,
		Prober:      prober,
	})
	return &fixture{tracker: tracker, store: s, vault: vault, prober: prober}
}

func (f *fixture) connect(t *testing.T, userID, serverID string, token []byte) *store.Attempt {
	t.Helper()
	ctx := context.Background()
	attempt, err := f.tracker.BeginConnect(ctx, userID, serverID)
	require.NoError(t, err)
	result := Succeeded(token)
	result.AttemptID = attempt.ID
	require.NoError(t, f.tracker.CompleteConnect(ctx, userID, serverID, result))
	return attempt
}

func TestTracker_BeginConnect(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	attempt, err := f.tracker.BeginConnect(ctx, "alice", "github")
	require.NoError(t, err)
	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, store.AttemptPending, attempt.Outcome)

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateAuthorizing, conn.State)

	attempts, err := f.tracker.Attempts(ctx, "alice", "github", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, attempt.ID, attempts[0].ID)
}

func TestTracker_BeginConnect_UnknownServer(t *testing.T) {
	f := setupTracker(t)

	_, err := f.tracker.BeginConnect(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestTracker_BeginConnect_DisabledServer(t *testing.T) {
	f := setupTracker(t)

	// gdrive has usable credentials in the fixture but is disabled.
	_, err := f.tracker.BeginConnect(context.Background(), "alice", "gdrive")
	assert.ErrorIs(t, err, ErrServerDisabled)
}

func TestTracker_BeginConnect_MissingCredentials(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	// No SLACK_* variables in the fixture source.
	_, err := f.tracker.BeginConnect(ctx, "alice", "slack")
	require.ErrorIs(t, err, ErrCredentialsUnavailable)
	assert.Contains(t, err.Error(), "SLACK_CLIENT_ID", "the message names the variables to set")

	// Failing fast means no record was created.
	_, err = f.tracker.Get(ctx, "alice", "slack")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTracker_BeginConnect_ProcessServerNeedsNoCredentials(t *testing.T) {
	f := setupTracker(t)

	_, err := f.tracker.BeginConnect(context.Background(), "alice", "postgres")
	assert.NoError(t, err)
}

func TestTracker_BeginConnect_AlreadyConnected(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	_, err := f.tracker.BeginConnect(ctx, "alice", "github")
	require.NoError(t, err)

	// From authorizing.
	_, err = f.tracker.BeginConnect(ctx, "alice", "github")
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	// From connected.
	require.NoError(t, f.tracker.CompleteConnect(ctx, "alice", "github", Succeeded(nil)))
	_, err = f.tracker.BeginConnect(ctx, "alice", "github")
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestTracker_CompleteConnect_Success(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	token := []byte(`{"access_token":"gho_abc"}`)
	attempt := f.connect(t, "alice", "github", token)

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateConnected, conn.State)
	require.NotNil(t, conn.ConnectedAt)

	sealed, err := f.vault.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, token, sealed)

	got, err := f.store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AttemptSuccess, got.Outcome)
	assert.NotNil(t, got.CompletedAt)
}

func TestTracker_CompleteConnect_Failure(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	attempt, err := f.tracker.BeginConnect(ctx, "alice", "github")
	require.NoError(t, err)

	result := Failed("user denied access")
	result.AttemptID = attempt.ID
	require.NoError(t, f.tracker.CompleteConnect(ctx, "alice", "github", result))

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateFailed, conn.State)
	assert.Equal(t, "user denied access", conn.LastError)

	got, err := f.store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AttemptFailure, got.Outcome)
	assert.Equal(t, "user denied access", got.Detail)

	// A failed pair can begin again.
	_, err = f.tracker.BeginConnect(ctx, "alice", "github")
	assert.NoError(t, err)
}

func TestTracker_CompleteConnect_DuplicateIsStale(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.connect(t, "alice", "github", nil)

	// The same outcome delivered twice: the second is a stale no-op.
	err := f.tracker.CompleteConnect(ctx, "alice", "github", Succeeded(nil))
	assert.ErrorIs(t, err, ErrStaleTransition)

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateConnected, conn.State)
}

func TestTracker_CompleteConnect_AfterDisconnectIsStale(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	attempt, err := f.tracker.BeginConnect(ctx, "alice", "github")
	require.NoError(t, err)
	require.NoError(t, f.tracker.Disconnect(ctx, "alice", "github"))

	// The provider callback lands after the user already disconnected.
	result := Succeeded([]byte("late token"))
	result.AttemptID = attempt.ID
	err = f.tracker.CompleteConnect(ctx, "alice", "github", result)
	assert.ErrorIs(t, err, ErrStaleTransition)

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateDisconnected, conn.State)

	// No token material leaked in.
	_, err = f.vault.Get(ctx, "alice", "github")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The stale callback closed the attempt as failed.
	got, err := f.store.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AttemptFailure, got.Outcome)
}

func TestTracker_Verify_PromotesToVerified(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	token := []byte(`{"access_token":"gho_abc"}`)
	f.connect(t, "alice", "github", token)

	require.NoError(t, f.tracker.Verify(ctx, "alice", "github", nil))

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateVerified, conn.State)

	// The probe ran with the unsealed token for the authenticated stream.
	assert.Equal(t, 1, f.prober.calls)
	assert.Equal(t, token, f.prober.last.Token)
	assert.Equal(t, "github", f.prober.last.Def.ID)
}

func TestTracker_Verify_ProbeFailureStaysConnected(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.connect(t, "alice", "github", []byte("tok"))
	require.NoError(t, f.tracker.Verify(ctx, "alice", "github", nil))

	f.prober.err = errors.New("connection refused")
	err := f.tracker.Verify(ctx, "alice", "github", nil)
	require.ErrorIs(t, err, ErrProbeFailed)

	// Demoted from verified, but still connected: probe failures are
	// transient, not disconnects.
	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateConnected, conn.State)
	assert.Contains(t, conn.LastError, "connection refused")
	assert.NotNil(t, conn.ConnectedAt)
}

func TestTracker_Verify_NotConnected(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	// Never seen.
	assert.ErrorIs(t, f.tracker.Verify(ctx, "alice", "github", nil), ErrNotConnected)

	// Authorizing is not verifiable yet.
	_, err := f.tracker.BeginConnect(ctx, "alice", "github")
	require.NoError(t, err)
	assert.ErrorIs(t, f.tracker.Verify(ctx, "alice", "github", nil), ErrNotConnected)

	// Neither is failed.
	require.NoError(t, f.tracker.CompleteConnect(ctx, "alice", "github", Failed("denied")))
	assert.ErrorIs(t, f.tracker.Verify(ctx, "alice", "github", nil), ErrNotConnected)

	assert.Zero(t, f.prober.calls, "no probe runs for unverifiable states")
}

func TestTracker_Verify_ProcessServerPassesConfig(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.connect(t, "alice", "postgres", nil)

	config := map[string]string{"connection_string": "postgresql://localhost/db"}
	require.NoError(t, f.tracker.Verify(ctx, "alice", "postgres", config))

	assert.Equal(t, config, f.prober.last.Config)
	assert.Nil(t, f.prober.last.Token)
}

func TestTracker_Disconnect(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.connect(t, "alice", "github", []byte("tok"))
	require.NoError(t, f.tracker.Disconnect(ctx, "alice", "github"))

	conn, err := f.tracker.Get(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, store.StateDisconnected, conn.State)
	assert.Nil(t, conn.ConnectedAt)

	// Token material is gone.
	_, err = f.vault.Get(ctx, "alice", "github")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The double-disconnect guard.
	assert.ErrorIs(t, f.tracker.Disconnect(ctx, "alice", "github"), ErrNotConnected)
	assert.ErrorIs(t, f.tracker.Disconnect(ctx, "alice", "slack"), ErrNotConnected)
}

func TestTracker_List(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	f.connect(t, "alice", "github", nil)
	_, err := f.tracker.BeginConnect(ctx, "alice", "postgres")
	require.NoError(t, err)

	conns, err := f.tracker.List(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	conns, err = f.tracker.List(ctx, "alice", store.StateConnected)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "github", conns[0].ServerID)

	_, err = f.tracker.List(ctx, "alice", "limbo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown state")
}

func TestTracker_ConcurrentBegin_OneWinner(t *testing.T) {
	f := setupTracker(t)
	ctx := context.Background()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.tracker.BeginConnect(ctx, "alice", "github")
		}(i)
	}
	wg.Wait()

	if errs[0] == nil {
		assert.ErrorIs(t, errs[1], ErrAlreadyConnected)
	} else {
		assert.ErrorIs(t, errs[0], ErrAlreadyConnected)
		assert.NoError(t, errs[1])
	}
}
