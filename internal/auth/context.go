// ABOUTME: Request identity propagation through context
// ABOUTME: Provides WithUser/UserFromContext for handlers downstream of the middleware

package auth

import "context"

// userKey is the key type for storing the authenticated user id in a context
type userKey struct{}

// WithUser returns a new context carrying the authenticated user id
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext retrieves the authenticated user id, or "" if the request
// did not pass through the auth middleware
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
