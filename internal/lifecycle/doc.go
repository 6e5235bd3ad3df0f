// Package lifecycle tracks per-(user, server) connection state.
//
// # State machine
//
// Each pair moves through five states:
//
//	disconnected -> authorizing -> connected -> verified
//	                     |
//	                     v
//	                   failed
//
// BeginConnect moves disconnected or failed pairs into authorizing and
// hands back an attempt handle. CompleteConnect applies the flow outcome:
// success lands in connected with the token sealed away, failure lands in
// failed with a diagnostic. Verify probes an established connection and
// promotes it to verified; a failed probe demotes verified to connected
// but never disconnects. Disconnect returns any active pair to
// disconnected and destroys stored token material.
//
// # Concurrency
//
// The tracker keeps no in-memory state and takes no locks. Every
// transition is a conditional update in the store, keyed on the expected
// current state; under concurrent calls the database picks one winner and
// the losers surface as ErrAlreadyConnected or ErrStaleTransition. That
// also makes late or duplicated OAuth callbacks harmless: a completion for
// a record that already left authorizing is reported as stale and changes
// nothing.
//
// Records stuck in authorizing (a callback that never arrived) are not
// swept here; an explicit Disconnect resets them.
package lifecycle
