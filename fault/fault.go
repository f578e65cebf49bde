// Package fault defines the error taxonomy shared by the cache, bridge and replay layers.
//
// Errors are sentinels meant for errors.Is; concrete failures wrap them with %w.
//
//   - ErrTransientNetwork: a mutating request failed in transport. It is queued for
//     replay and never returned to the caller of the failed action.
//   - ErrPersistenceUnavailable: the background channel is missing, closed or full.
//     The write is logged and dropped; foreground memory stays authoritative.
//   - ErrProtocolMismatch: a malformed or unknown message. Ignored, logged, no retry.
//   - ErrReplayExhausted: a queued request outlived the retention horizon. Dropped,
//     one SYNC_FAILED notification, no further retry.
package fault

import "errors"

var (
	ErrTransientNetwork       = errors.New("offsync: transient network error")
	ErrPersistenceUnavailable = errors.New("offsync: persistence unavailable")
	ErrProtocolMismatch       = errors.New("offsync: protocol mismatch")
	ErrReplayExhausted        = errors.New("offsync: replay exhausted")
)
