package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity or survey does not exist.
var ErrNotFound = errors.New("not found")

// InvalidMutationError marks a mutation rejected before it reached the
// queue: malformed value, missing foreign key, or a CREATE colliding with a
// live entity. These are programmer errors - never retried, never enqueued.
type InvalidMutationError struct {
	EntityID string
	Reason   error
}

func (e *InvalidMutationError) Error() string {
	return fmt.Sprintf("invalid mutation for %s: %v", e.EntityID, e.Reason)
}

func (e *InvalidMutationError) Unwrap() error { return e.Reason }

// IsInvalidMutation reports whether err is an InvalidMutationError.
// Uses errors.As to handle wrapped errors.
func IsInvalidMutation(err error) bool {
	var ie *InvalidMutationError
	return errors.As(err, &ie)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
