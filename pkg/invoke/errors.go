package invoke

import (
	"errors"
	"fmt"
)

// ErrEndpointRequired indicates the invoker was constructed without a
// backend endpoint. Raised at setup, never retried.
var ErrEndpointRequired = errors.New("backend endpoint is required")

// InvocationError reports a failed remote call or an unreadable response.
// The gateway surfaces it to the client as one error chunk followed by the
// terminal completion; retry, if any, belongs to the backend side.
type InvocationError struct {
	// Status is the HTTP status when the backend responded, 0 otherwise.
	Status int
	Err    error
}

func (e *InvocationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("invocation failed with status %d: %v", e.Status, e.Err)
	}

	return fmt.Sprintf("invocation failed: %v", e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
