package syncer

import "fmt"

// ApplyError reports a failed operation. For a namespace clear, Deleted counts
// the keys removed before the failure; those stay removed.
type ApplyError struct {
	Op        string
	Namespace string
	Key       string
	Deleted   int
	Total     int
	Err       error
}

func (e *ApplyError) Error() string {
	switch {
	case e.Op == "clear-namespace" && e.Key != "":
		return fmt.Sprintf("clear namespace %q: delete %q failed after %d/%d keys: %v",
			e.Namespace, e.Key, e.Deleted, e.Total, e.Err)
	case e.Op == "clear-namespace":
		return fmt.Sprintf("clear namespace %q: %v", e.Namespace, e.Err)
	case e.Key != "":
		return fmt.Sprintf("%s %q: %v", e.Op, e.Key, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *ApplyError) Unwrap() error { return e.Err }
