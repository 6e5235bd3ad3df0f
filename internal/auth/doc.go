// Package auth provides bearer-token authentication for the dockhand API.
//
// Tokens are HS256-signed JWTs whose "sub" claim carries the user id that
// connection records are keyed by. JWTVerifier both mints tokens (the
// `dockhand token` command) and verifies them (the HTTP middleware); both
// sides share the configured API secret.
//
// Middleware guards the /api routes: it extracts the Authorization bearer
// token, verifies it, and attaches the user id to the request context where
// handlers read it back with UserFromContext. The OAuth callback route does
// not use this middleware; its identity arrives inside the signed state
// parameter instead, because the browser redirect from the provider carries
// no Authorization header.
package auth
