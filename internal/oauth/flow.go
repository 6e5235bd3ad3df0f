// ABOUTME: OAuth authorization-code flow with PKCE over persisted pending flows
// ABOUTME: Builds authorize URLs, validates callbacks, and exchanges codes for tokens

package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"dockhand/internal/credentials"
	"dockhand/internal/store"
)

// DefaultFlowTTL bounds how long a provider redirect may take before the
// pending flow expires. Ten minutes is generous for a human clicking
// through a consent screen.
const DefaultFlowTTL = 10 * time.Minute

// ErrFlowConsumed is returned when a callback arrives for a flow that was
// already claimed or has expired. Replayed callbacks land here.
var ErrFlowConsumed = errors.New("authorization flow already consumed or expired")

// Callback is the validated identity of one provider callback: which
// user/server/attempt it belongs to and the PKCE verifier needed for the
// code exchange.
type Callback struct {
	UserID    string
	ServerID  string
	AttemptID string
	Verifier  string
}

// Flow drives the authorization-code flow. Pending flows live in the store
// rather than memory, so the callback may land on a different process than
// the one that issued the redirect, and a restart loses nothing.
type Flow struct {
	flows       store.FlowStore
	secret      []byte
	redirectURL string
	ttl         time.Duration
	logger      *slog.Logger
}

// NewFlow builds a Flow. The secret signs state parameters; redirectURL is
// the externally reachable callback endpoint registered with providers.
func NewFlow(flows store.FlowStore, secret []byte, redirectURL string) *Flow {
	return &Flow{
		flows:       flows,
		secret:      secret,
		redirectURL: redirectURL,
		ttl:         DefaultFlowTTL,
		logger:      slog.Default().With("component", "oauth"),
	}
}

// oauthConfig maps a resolved template onto the oauth2 library's config
func (f *Flow) oauthConfig(resolved *credentials.ResolvedOAuth) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     resolved.ClientID,
		ClientSecret: resolved.ClientSecret,
		RedirectURL:  f.redirectURL,
		Scopes:       resolved.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  resolved.AuthorizeURL,
			TokenURL: resolved.TokenURL,
		},
	}
}

// Begin starts an authorization flow for an attempt: generates a PKCE
// verifier, persists the pending flow, and returns the provider authorize
// URL the user's browser should open. Expired leftovers are pruned
// opportunistically; there is no background sweeper.
func (f *Flow) Begin(ctx context.Context, resolved *credentials.ResolvedOAuth, userID, serverID, attemptID string) (string, error) {
	now := time.Now().UTC()
	if _, err := f.flows.PruneFlows(ctx, now); err != nil {
		f.logger.Warn("pruning expired flows", "error", err)
	}

	verifier := oauth2.GenerateVerifier()
	if err := f.flows.CreateFlow(ctx, &store.OAuthFlow{
		AttemptID: attemptID,
		UserID:    userID,
		ServerID:  serverID,
		Verifier:  verifier,
		CreatedAt: now,
		ExpiresAt: now.Add(f.ttl),
	}); err != nil {
		return "", fmt.Errorf("persisting pending flow: %w", err)
	}

	state, err := signState(f.secret, stateClaims{
		UserID:    userID,
		ServerID:  serverID,
		AttemptID: attemptID,
	}, f.ttl)
	if err != nil {
		return "", fmt.Errorf("signing state: %w", err)
	}

	url := f.oauthConfig(resolved).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	f.logger.Info("authorization flow started",
		"user", userID, "server", serverID, "attempt", attemptID)
	return url, nil
}

// ConsumeCallback validates a callback's state parameter and claims its
// pending flow exactly once. Tampered or expired state returns
// ErrInvalidState; a flow already claimed (replayed callback) or past its
// expiry returns ErrFlowConsumed. In every failure case no connection
// record has been touched.
func (f *Flow) ConsumeCallback(ctx context.Context, state string) (*Callback, error) {
	claims, err := verifyState(f.secret, state)
	if err != nil {
		return nil, err
	}

	flow, err := f.flows.ClaimFlow(ctx, claims.AttemptID, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
		return nil, fmt.Errorf("%w: attempt %s", ErrFlowConsumed, claims.AttemptID)
	}
	if err != nil {
		return nil, err
	}

	// The flow row is the source of truth; the state only locates it.
	// A mismatch means the signed state was minted for a different flow.
	if flow.UserID != claims.UserID || flow.ServerID != claims.ServerID {
		return nil, fmt.Errorf("%w: state does not match flow", ErrInvalidState)
	}

	return &Callback{
		UserID:    flow.UserID,
		ServerID:  flow.ServerID,
		AttemptID: flow.AttemptID,
		Verifier:  flow.Verifier,
	}, nil
}

// Exchange swaps an authorization code for a token at the provider's token
// endpoint, presenting the PKCE verifier claimed from the flow
func (f *Flow) Exchange(ctx context.Context, resolved *credentials.ResolvedOAuth, code, verifier string) (*oauth2.Token, error) {
	token, err := f.oauthConfig(resolved).Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return token, nil
}
