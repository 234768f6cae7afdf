package tracker

import "fmt"

// InvalidStateError reports a lifecycle call made out of order, such as
// starting a scenario while another is live.
type InvalidStateError struct {
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func invalid(op, format string, args ...any) *InvalidStateError {
	return &InvalidStateError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
