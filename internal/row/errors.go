package row

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes errors surfaced by synchronous store operations.
type ErrorCode string

const (
	// ErrCodeValidation indicates a malformed identifier, slug or row.
	// Raised before any I/O.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeConnection indicates the store could not be reached.
	// The row store does not retry these.
	ErrCodeConnection ErrorCode = "CONNECTION"

	// ErrCodeNotFound indicates an update-by-id target does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTxState indicates an operation on a transaction in a terminal state.
	ErrCodeTxState ErrorCode = "TX_STATE"
)

// Error is the structured error returned by the row store, the stager and
// the document client.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Code, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error.
func NewValidationError(op, message string) *Error {
	return &Error{Code: ErrCodeValidation, Op: op, Message: message}
}

// NewConnectionError wraps err as a connection error.
func NewConnectionError(op string, err error) *Error {
	return &Error{Code: ErrCodeConnection, Op: op, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(op, message string) *Error {
	return &Error{Code: ErrCodeNotFound, Op: op, Message: message}
}

// NewTxStateError creates a transaction state error.
func NewTxStateError(op, message string) *Error {
	return &Error{Code: ErrCodeTxState, Op: op, Message: message}
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidation reports whether err is (or wraps) a validation error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsConnection reports whether err is (or wraps) a connection error.
func IsConnection(err error) bool { return hasCode(err, ErrCodeConnection) }

// IsNotFound reports whether err is (or wraps) a not-found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsTxState reports whether err is (or wraps) a transaction state error.
func IsTxState(err error) bool { return hasCode(err, ErrCodeTxState) }
