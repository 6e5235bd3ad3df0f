// Package store provides persistent storage for dockhand using SQLite.
//
// # Architecture
//
// The package splits its surface into per-concern interfaces:
//
//   - ConnectionStore: connection records and their state transitions
//   - AttemptStore: audit trail of authorization/launch attempts
//   - TokenStore: sealed token blobs per (user, server)
//   - FlowStore: pending OAuth flows with single-use claims
//
// SQLiteStore implements all of them in a single struct; consumers depend
// only on the slice they need. Vault layers AEAD sealing on top of
// TokenStore so plaintext tokens never reach the database.
//
// # State transitions
//
// Connection rows move between five states: disconnected, authorizing,
// connected, verified, failed. Every transition method issues a single
// conditional UPDATE keyed on the expected current state(s) and checks the
// affected-row count; a miss returns ErrConflict and leaves the row
// untouched. That makes concurrent transitions safe without any
// application-level locking: when two callers race, the database picks
// exactly one winner and the loser finds out from ErrConflict. The
// connections table backs this with a CHECK constraint over the state
// column, so no bug can persist an unknown state.
//
// # SQLite Configuration
//
// WAL mode for concurrent reads, foreign keys on, and a busy timeout so
// racing writers queue instead of erroring:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as RFC 3339 UTC text, which keeps SQL comparisons
// (flow expiry, attempt ordering) correct as plain string comparisons.
//
// # Migrations
//
// The schema comes entirely from embedded migration scripts in
// internal/store/migrations/, applied by internal/store/migrate on store
// initialization and by the standalone migrate command at deploy time. The
// applier keeps a schema_migrations ledger, so opening an up-to-date
// database applies nothing.
package store
