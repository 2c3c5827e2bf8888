package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a backend whose medium is blocked entirely
	// (probe failed). Cached after the first definitive probe.
	ErrUnavailable = errors.New("storage backend unavailable")

	// ErrUnsupported marks a capability the active adapter does not
	// implement (e.g. outbox calls routed to a flat-only setup).
	ErrUnsupported = errors.New("operation unsupported by this backend")

	// ErrStaleConnection marks an operation that raced a cross-process
	// close/reopen of the structured store. Callers retry against a
	// freshly opened handle on next access.
	ErrStaleConnection = errors.New("storage connection is stale")
)

// WriteError wraps a rejected write (quota, aborted transaction).
// Primary-backend write errors propagate to the caller unconditionally;
// secondary (mirror) write errors are logged and swallowed.
type WriteError struct {
	Store string
	Key   string
	Err   error
}

func (e *WriteError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("write to %s rejected: %v", e.Store, e.Err)
	}
	return fmt.Sprintf("write to %s[%s] rejected: %v", e.Store, e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
