package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlow(expiresIn time.Duration) *OAuthFlow {
	now := time.Now().UTC()
	return &OAuthFlow{
		AttemptID: uuid.New().String(),
		UserID:    "alice",
		ServerID:  "github",
		Verifier:  "pkce-verifier-value",
		CreatedAt: now,
		ExpiresAt: now.Add(expiresIn),
	}
}

func TestStore_ClaimFlow_Once(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	flow := newTestFlow(10 * time.Minute)
	require.NoError(t, s.CreateFlow(ctx, flow))

	claimed, err := s.ClaimFlow(ctx, flow.AttemptID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "alice", claimed.UserID)
	assert.Equal(t, "github", claimed.ServerID)
	assert.Equal(t, "pkce-verifier-value", claimed.Verifier)

	// A replayed callback finds the flow already claimed.
	_, err = s.ClaimFlow(ctx, flow.AttemptID, time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_ClaimFlow_Expired(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	flow := newTestFlow(-time.Minute)
	require.NoError(t, s.CreateFlow(ctx, flow))

	_, err := s.ClaimFlow(ctx, flow.AttemptID, time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_ClaimFlow_Unknown(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.ClaimFlow(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateFlow_DuplicateAttempt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	flow := newTestFlow(10 * time.Minute)
	require.NoError(t, s.CreateFlow(ctx, flow))
	assert.ErrorIs(t, s.CreateFlow(ctx, flow), ErrConflict)
}

func TestStore_PruneFlows(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	live := newTestFlow(10 * time.Minute)
	dead := newTestFlow(-time.Minute)
	require.NoError(t, s.CreateFlow(ctx, live))
	require.NoError(t, s.CreateFlow(ctx, dead))

	pruned, err := s.PruneFlows(ctx, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	// The live flow survived and still claims.
	_, err = s.ClaimFlow(ctx, live.AttemptID, time.Now())
	assert.NoError(t, err)

	_, err = s.ClaimFlow(ctx, dead.AttemptID, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}
