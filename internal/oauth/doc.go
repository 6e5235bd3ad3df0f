// Package oauth drives the authorization-code flow for stream servers that
// require authentication.
//
// # Flow
//
// Begin generates a PKCE verifier, parks it in a persisted pending-flow row
// keyed by attempt id, and returns the provider's authorize URL with an
// HS256-signed state parameter. The state carries the (user, server,
// attempt) identity through the browser redirect, because the provider's
// callback request arrives with no credentials of its own.
//
// ConsumeCallback verifies the state signature and claims the pending flow
// exactly once. Duplicate or late callbacks fail the claim and are rejected
// before any connection record is touched; the lifecycle tracker's own
// authorizing-state check is the second line of defense. Exchange then
// swaps the authorization code for a token using the claimed verifier.
//
// Pending flows live in the database, not memory, so the callback may be
// served by a different process than the one that issued the redirect.
// Expired flows are pruned opportunistically when new flows begin.
package oauth
