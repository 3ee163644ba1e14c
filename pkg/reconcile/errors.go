package reconcile

import (
	"errors"
	"fmt"
)

// ErrCycleInProgress is returned when a cycle is requested while another runs.
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// ValidationError means the order lacks the data needed to address a message.
// It is terminal until someone fixes the record.
type ValidationError struct {
	OrderNumber int64
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %d: %s", e.OrderNumber, e.Reason)
}

// ConnectError aborts a cycle before anything was read or written.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("store unreachable: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a recipient validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
