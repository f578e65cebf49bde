package offsync

import "github.com/unkn0wn-root/offsync/obs"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// Cache.Set and friends call them on the foreground path.
type Hooks = obs.Hooks

// NopHooks is the default no-op
type NopHooks = obs.NopHooks
