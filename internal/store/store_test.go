package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestStore_GetConnection_NeverSeen(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.GetConnection(ctx, "alice", "github")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_BeginConnection_CreatesRow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizing, conn.State)
	assert.Nil(t, conn.ConnectedAt)
	assert.Empty(t, conn.LastError)
	assert.False(t, conn.CreatedAt.IsZero())
	assert.False(t, conn.UpdatedAt.IsZero())
}

func TestStore_BeginConnection_WhileActive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	assert.ErrorIs(t, s.BeginConnection(ctx, "alice", "github"), ErrConflict)

	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))
	assert.ErrorIs(t, s.BeginConnection(ctx, "alice", "github"), ErrConflict)
}

func TestStore_BeginConnection_AfterFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionFailure(ctx, "alice", "github", "provider said no"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, conn.State)
	assert.Equal(t, "provider said no", conn.LastError)

	// A failed pair can start over, and the old diagnostic clears.
	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	conn, err = s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizing, conn.State)
	assert.Empty(t, conn.LastError)
}

func TestStore_CompleteConnectionSuccess(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State)
	require.NotNil(t, conn.ConnectedAt)
	assert.Empty(t, conn.LastError)
}

func TestStore_CompleteConnectionSuccess_Stale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))

	// A duplicate completion is a lost race, not a state change.
	err := s.CompleteConnectionSuccess(ctx, "alice", "github")
	assert.ErrorIs(t, err, ErrConflict)

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State)
}

func TestStore_CompleteConnection_WithoutBegin(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.CompleteConnectionSuccess(ctx, "alice", "github"), ErrConflict)
	assert.ErrorIs(t, s.CompleteConnectionFailure(ctx, "alice", "github", "x"), ErrConflict)
}

func TestStore_MarkVerified(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))
	require.NoError(t, s.MarkVerified(ctx, "alice", "github"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateVerified, conn.State)

	// Verifying an already-verified connection is fine.
	require.NoError(t, s.MarkVerified(ctx, "alice", "github"))

	// But a pair that is not connected cannot verify.
	assert.ErrorIs(t, s.MarkVerified(ctx, "alice", "slack"), ErrConflict)
}

func TestStore_MarkVerifyFailed_DemotesToConnected(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))
	require.NoError(t, s.MarkVerified(ctx, "alice", "github"))

	require.NoError(t, s.MarkVerifyFailed(ctx, "alice", "github", "probe timed out"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateConnected, conn.State)
	assert.Equal(t, "probe timed out", conn.LastError)
	assert.NotNil(t, conn.ConnectedAt, "a failed probe does not tear the connection down")

	// A later successful verify clears the diagnostic.
	require.NoError(t, s.MarkVerified(ctx, "alice", "github"))
	conn, err = s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Empty(t, conn.LastError)
}

func TestStore_Disconnect(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))
	require.NoError(t, s.Disconnect(ctx, "alice", "github"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, conn.State)
	assert.Nil(t, conn.ConnectedAt)
	assert.Empty(t, conn.LastError)

	// Already disconnected, and never-seen pairs, both miss.
	assert.ErrorIs(t, s.Disconnect(ctx, "alice", "github"), ErrConflict)
	assert.ErrorIs(t, s.Disconnect(ctx, "alice", "slack"), ErrConflict)
}

func TestStore_Disconnect_FromAnyActiveState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// authorizing
	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.Disconnect(ctx, "alice", "github"))

	// failed
	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionFailure(ctx, "alice", "github", "nope"))
	require.NoError(t, s.Disconnect(ctx, "alice", "github"))

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, conn.State)
	assert.Empty(t, conn.LastError)
}

func TestStore_ListConnections(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))
	require.NoError(t, s.BeginConnection(ctx, "alice", "slack"))
	require.NoError(t, s.BeginConnection(ctx, "bob", "github"))

	conns, err := s.ListConnections(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, conns, 2)
	assert.Equal(t, "github", conns[0].ServerID)
	assert.Equal(t, "slack", conns[1].ServerID)

	conns, err = s.ListConnections(ctx, "alice", StateConnected)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "github", conns[0].ServerID)

	conns, err = s.ListConnections(ctx, "alice", StateConnected, StateAuthorizing)
	require.NoError(t, err)
	assert.Len(t, conns, 2)

	conns, err = s.ListConnections(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestStore_ConcurrentBegin_ExactlyOneWinner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.BeginConnection(ctx, "alice", "github")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, winners)

	conn, err := s.GetConnection(ctx, "alice", "github")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizing, conn.State)
}

func TestStore_StatesAreDistinctPerUser(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginConnection(ctx, "alice", "github"))
	require.NoError(t, s.BeginConnection(ctx, "bob", "github"))
	require.NoError(t, s.CompleteConnectionSuccess(ctx, "alice", "github"))

	bob, err := s.GetConnection(ctx, "bob", "github")
	require.NoError(t, err)
	assert.Equal(t, StateAuthorizing, bob.State)
}
