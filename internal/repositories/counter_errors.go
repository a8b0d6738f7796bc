package repositories

import "fmt"

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorInvalidInput indicates the caller supplied an empty counter id or negative step.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
	// CounterErrorUnavailable indicates the backing store could not complete the increment.
	CounterErrorUnavailable CounterErrorCode = "counter_unavailable"
)

// CounterError wraps counter-specific failures with machine readable codes.
type CounterError struct {
	Op        string
	CounterID string
	Code      CounterErrorCode
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.CounterID != "" {
		msg = fmt.Sprintf("%s (counter %s)", msg, e.CounterID)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, counterID, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{
		CounterID: counterID,
		Code:      code,
		Message:   message,
		Err:       err,
	}
}
