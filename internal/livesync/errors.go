package livesync

import (
	"errors"
	"fmt"
)

// ErrViewClosed is returned by operations on a view after Close.
var ErrViewClosed = errors.New("live view closed")

// TransientFetchError marks a failed snapshot or lookup. The view stays
// in an error state until Retry re-runs the open sequence; nothing is
// retried automatically.
type TransientFetchError struct {
	Op  string
	Err error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// SubscriptionError marks a change-feed subscription that could not be
// established. It is surfaced to the caller of the affected view; other
// open views are untouched.
type SubscriptionError struct {
	Table string
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe %s: %v", e.Table, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }
