package bridge

import "fmt"

// Background -> foreground notification types.
const (
	SyncStarted  = "SYNC_STARTED"
	SyncComplete = "SYNC_COMPLETE"
	SyncFailed   = "SYNC_FAILED"
)

// Notification is an advisory replay lifecycle signal.
// Count is the number of replayed (SYNC_COMPLETE) or dropped (SYNC_FAILED) requests.
type Notification struct {
	Type  string `json:"type"`
	Count int    `json:"count,omitempty"`
}

func (n Notification) Validate() error {
	switch n.Type {
	case SyncStarted, SyncComplete, SyncFailed:
		return nil
	}
	return fmt.Errorf("unknown notification type %q", n.Type)
}
