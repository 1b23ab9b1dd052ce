package transport

import (
	"errors"
	"fmt"
)

// ErrConnectionNotFound indicates a send to a connection the sink does not know.
var ErrConnectionNotFound = errors.New("connection not found")

// DeliveryError reports a failed send to one connection. The liveness
// scheduler force-stops the affected session when it sees one; other
// sessions are unaffected.
type DeliveryError struct {
	ConnectionID string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to connection %s failed: %v", e.ConnectionID, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewDeliveryError wraps err as a delivery failure for the given connection.
func NewDeliveryError(connectionID string, err error) *DeliveryError {
	return &DeliveryError{ConnectionID: connectionID, Err: err}
}
