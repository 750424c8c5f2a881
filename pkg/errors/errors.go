package errors

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

var (
	ErrUnavailable    = errors.New("dependency unavailable")
	ErrInvalidData    = errors.New("invalid data")
	ErrMalformedRow   = errors.New("malformed row")
	ErrIndexRejected  = errors.New("index rejected documents")
	ErrRetryExhausted = errors.New("retry budget exhausted")
	ErrCircuitOpen    = errors.New("circuit breaker is open")
)

// AppError attaches the failing operation and a human-readable message to a
// sentinel so callers can still match it with errors.Is.
type AppError struct {
	Err     error
	Op      string
	Message string
}

func (e *AppError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, op string, message string) *AppError {
	return &AppError{
		Err:     sentinel,
		Op:      op,
		Message: message,
	}
}

func Newf(sentinel error, op string, format string, args ...any) *AppError {
	return &AppError{
		Err:     sentinel,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapped keeps both the sentinel and the underlying cause reachable through
// errors.Is / errors.As.
type wrapped struct {
	sentinel error
	op       string
	cause    error
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.op, w.sentinel.Error(), w.cause)
}

func (w *wrapped) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}

// Unavailable marks err as a transient connectivity failure of op.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{sentinel: ErrUnavailable, op: op, cause: err}
}

// InvalidData marks err as a value or parsing failure of op.
func InvalidData(op string, err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{sentinel: ErrInvalidData, op: op, cause: err}
}

// IsTransient reports whether err is worth retrying: a connectivity failure
// of any dependency, an open circuit or a value/parsing error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// An exhausted budget is final.
	if errors.Is(err, ErrRetryExhausted) {
		return false
	}
	switch {
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrInvalidData),
		errors.Is(err, ErrCircuitOpen),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
