// ABOUTME: Signed OAuth state parameter carrying the flow identity across the redirect
// ABOUTME: HS256 JWT with sub/srv/att claims and a short expiry

package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidState is returned when a callback's state parameter fails
// verification: bad signature, expired, or missing claims. A callback with
// invalid state must never touch a connection record.
var ErrInvalidState = errors.New("invalid state parameter")

// stateClaims is what the state parameter carries through the provider
// redirect: who started the flow, for which server, under which attempt.
// The signature makes the callback self-authenticating, since the browser
// redirect carries no Authorization header.
type stateClaims struct {
	UserID    string
	ServerID  string
	AttemptID string
}

func signState(secret []byte, c stateClaims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": c.UserID,
		"srv": c.ServerID,
		"att": c.AttemptID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verifyState(secret []byte, state string) (stateClaims, error) {
	token, err := jwt.Parse(state, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return stateClaims{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return stateClaims{}, ErrInvalidState
	}

	out := stateClaims{}
	if out.UserID, ok = claims["sub"].(string); !ok || out.UserID == "" {
		return stateClaims{}, fmt.Errorf("%w: missing sub", ErrInvalidState)
	}
	if out.ServerID, ok = claims["srv"].(string); !ok || out.ServerID == "" {
		return stateClaims{}, fmt.Errorf("%w: missing srv", ErrInvalidState)
	}
	if out.AttemptID, ok = claims["att"].(string); !ok || out.AttemptID == "" {
		return stateClaims{}, fmt.Errorf("%w: missing att", ErrInvalidState)
	}
	return out, nil
}
