package cover

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stages. Callers classify with errors.Is.
var (
	// ErrNotFound means the candidate does not exist upstream. Expected, not a failure.
	ErrNotFound = errors.New("not found")
	// ErrNotImage means the upstream answered with something that is not an image.
	ErrNotImage = errors.New("not an image")
	// ErrRetriesExhausted means a transient failure persisted past the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrCorruptImage means the bytes could not be decoded as an image.
	ErrCorruptImage = errors.New("corrupt image")
	// ErrNoMetadata means no source had data for the requested date.
	ErrNoMetadata = errors.New("no metadata")
)

// StatusError carries a non-success HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}
