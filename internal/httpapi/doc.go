// Package httpapi serves the dockhand HTTP surface.
//
// # Routes
//
// Authenticated (bearer token, user id from the token's sub claim):
//
//	GET    /api/servers                     list catalog entries (filters: transport, requires_auth, all)
//	GET    /api/servers/{id}                one catalog entry
//	POST   /api/servers/{id}/connect        begin a connection attempt
//	POST   /api/servers/{id}/verify         capability-probe an established connection
//	DELETE /api/servers/{id}/connection     disconnect
//	GET    /api/connections                 the caller's connection records (filter: state)
//
// Unauthenticated:
//
//	GET /oauth/callback                     provider redirect target
//	GET /health                             liveness
//
// # Connect semantics
//
// Servers with an OAuth template answer connect with the provider authorize
// URL and stay in authorizing until the callback lands. Process-transport
// and unauthenticated stream servers have no redirect leg: connect
// validates configuration, runs the capability probe, and completes the
// attempt in one request.
//
// # Error taxonomy
//
// Every error response carries a machine-readable code plus a kind that
// tells callers how to react: "configuration" (fix your setup: unknown
// server, wrong transport, missing parameters or credentials), "conflict"
// (expected races: already connected, not connected, stale transitions and
// replayed callbacks), or "transient" (try again: probe and store
// failures). Statuses follow: 404/400/403 configuration, 409/410 conflict,
// 502/503 transient.
package httpapi
