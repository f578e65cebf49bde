package offsync

import "github.com/unkn0wn-root/offsync/fault"

// Error taxonomy, re-exported for errors.Is.
var (
	ErrTransientNetwork       = fault.ErrTransientNetwork
	ErrPersistenceUnavailable = fault.ErrPersistenceUnavailable
	ErrProtocolMismatch       = fault.ErrProtocolMismatch
	ErrReplayExhausted        = fault.ErrReplayExhausted
)
