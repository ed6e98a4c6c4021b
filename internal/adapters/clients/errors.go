package clients

import (
	"errors"
	"fmt"
)

// Transport-level failures. The acl package turns these into domain errors.
var (
	// ErrCircuitOpen means the breaker refused the call without contacting the service.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrMaxRetriesExceeded wraps the last failure once every attempt is used up.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// StatusError is a 5xx response that was retried and discarded.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d", e.Code)
}
