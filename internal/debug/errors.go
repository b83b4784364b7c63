package debug

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes debugger failures.
type ErrorKind string

const (
	ErrInternal         ErrorKind = "internal"
	ErrConflict         ErrorKind = "conflict"
	ErrValidationFailed ErrorKind = "validation_failed"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeConflict       = -32002
	CodeValidation     = -32004
)

// Error is a failed debugger operation.
type Error struct {
	Kind    ErrorKind
	Worker  string
	Message string

	// Errors lists each validation failure.
	Errors []string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrConflict:
		return fmt.Sprintf("conflict: %s", e.Message)
	case ErrValidationFailed:
		return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, ", "))
	}
	return fmt.Sprintf("internal error: %s", e.Message)
}

// RPCCode maps the error onto a JSON-RPC error code.
func (e *Error) RPCCode() int {
	switch e.Kind {
	case ErrConflict:
		return CodeConflict
	case ErrValidationFailed:
		return CodeValidation
	}
	return CodeInternalError
}

func internalError(worker, format string, args ...any) *Error {
	return &Error{Kind: ErrInternal, Worker: worker, Message: fmt.Sprintf(format, args...)}
}

func conflictError(worker, message string) *Error {
	return &Error{Kind: ErrConflict, Worker: worker, Message: message}
}

func validationError(worker string, errs ...string) *Error {
	return &Error{Kind: ErrValidationFailed, Worker: worker, Errors: errs, Message: strings.Join(errs, ", ")}
}

func isKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsConflict reports whether err is a conflict.
func IsConflict(err error) bool { return isKind(err, ErrConflict) }

// IsValidationFailed reports whether err rejected its input.
func IsValidationFailed(err error) bool { return isKind(err, ErrValidationFailed) }

// IsInternal reports whether err is an internal failure.
func IsInternal(err error) bool { return isKind(err, ErrInternal) }
