package obs

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the
// foreground write path and inside replay cycles.
type Hooks interface {
	// A fire-and-forget cache mutation could not reach the background context.
	// op ∈ {"set", "delete", "clear", "clear-namespace"}
	SyncDropped(namespace, op string, err error)

	// A malformed or unrecognized bridge message was ignored.
	ProtocolMismatch(reason string)

	// A durable record failed framing or value decoding and was skipped.
	// reason ∈ {"frame", "value_decode"}
	CorruptRecord(storageKey, reason string)

	// A versioned set lost against a newer durable record.
	StaleWriteSkipped(storageKey string, stored, incoming uint64)

	// A queued request outlived the retention horizon and was dropped.
	ReplayExhausted(requestID string, age time.Duration)

	// A replay cycle stopped at a failing head request.
	// pending counts the requests left behind it, the head included.
	ReplayHalted(requestID string, pending int, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) SyncDropped(string, string, error)        {}
func (NopHooks) ProtocolMismatch(string)                  {}
func (NopHooks) CorruptRecord(string, string)             {}
func (NopHooks) StaleWriteSkipped(string, uint64, uint64) {}
func (NopHooks) ReplayExhausted(string, time.Duration)    {}
func (NopHooks) ReplayHalted(string, int, error)          {}

// HooksOrNop returns h, or NopHooks when h is nil.
func HooksOrNop(h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	return h
}
