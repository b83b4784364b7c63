package oplog

import (
	"errors"
	"fmt"

	"github.com/roach88/oplog/internal/model"
)

// Error is a structured oplog failure. Fatal conditions panic with *Error;
// the rest are returned.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Worker is the affected worker, if any.
	Worker string

	// Index is the affected oplog index, if any.
	Index model.OplogIndex

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes oplog errors.
type ErrorCode string

const (
	// ErrCodeAlreadyExists indicates Create was called for a worker that
	// already has an oplog.
	ErrCodeAlreadyExists ErrorCode = "OPLOG_ALREADY_EXISTS"

	// ErrCodeEntryMissing indicates a committed index could not be read.
	ErrCodeEntryMissing ErrorCode = "OPLOG_ENTRY_MISSING"

	// ErrCodeCreateNotAllowed indicates Create was called on a read-only
	// service.
	ErrCodeCreateNotAllowed ErrorCode = "CREATE_NOT_ALLOWED"

	// ErrCodeConcurrentSideEffect indicates an entry was recorded inside an
	// open remote write it may not appear in.
	ErrCodeConcurrentSideEffect ErrorCode = "CONCURRENT_SIDE_EFFECT"

	// ErrCodePayloadNotFound indicates an external payload has no blob.
	ErrCodePayloadNotFound ErrorCode = "PAYLOAD_NOT_FOUND"

	// ErrCodePayloadCorrupt indicates an external payload does not match its
	// hash.
	ErrCodePayloadCorrupt ErrorCode = "PAYLOAD_CORRUPT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Worker != "" {
		msg += fmt.Sprintf(" (worker=%s", e.Worker)
		if !e.Index.IsNone() {
			msg += fmt.Sprintf(", index=%d", e.Index)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == code
	}
	return false
}

// IsAlreadyExists returns true if err reports a duplicate Create.
func IsAlreadyExists(err error) bool { return hasCode(err, ErrCodeAlreadyExists) }

// IsEntryMissing returns true if err reports a missing committed entry.
func IsEntryMissing(err error) bool { return hasCode(err, ErrCodeEntryMissing) }

// IsCreateNotAllowed returns true if err reports a Create on a read-only
// service.
func IsCreateNotAllowed(err error) bool { return hasCode(err, ErrCodeCreateNotAllowed) }

// IsConcurrentSideEffect returns true if err reports a side effect recorded
// inside an open remote write.
func IsConcurrentSideEffect(err error) bool { return hasCode(err, ErrCodeConcurrentSideEffect) }

// IsPayloadNotFound returns true if err reports a missing payload blob.
func IsPayloadNotFound(err error) bool { return hasCode(err, ErrCodePayloadNotFound) }

// IsPayloadCorrupt returns true if err reports a payload hash mismatch.
func IsPayloadCorrupt(err error) bool { return hasCode(err, ErrCodePayloadCorrupt) }

// NewAlreadyExistsError creates an Error for a duplicate Create.
func NewAlreadyExistsError(owned model.OwnedWorkerID) *Error {
	return &Error{
		Code:    ErrCodeAlreadyExists,
		Message: "oplog already exists",
		Worker:  owned.String(),
	}
}

// NewEntryMissingError creates an Error for a committed index that could not
// be read.
func NewEntryMissingError(owned model.OwnedWorkerID, idx model.OplogIndex) *Error {
	return &Error{
		Code:    ErrCodeEntryMissing,
		Message: "missing oplog entry",
		Worker:  owned.String(),
		Index:   idx,
	}
}

// NewCreateNotAllowedError creates an Error for a Create on a read-only
// service.
func NewCreateNotAllowedError(owned model.OwnedWorkerID, reason string) *Error {
	return &Error{
		Code:    ErrCodeCreateNotAllowed,
		Message: reason,
		Worker:  owned.String(),
	}
}

// RecoverError converts a recovered panic value back into an error. Values
// that are not errors are re-panicked.
//
//	defer func() {
//	    if r := recover(); r != nil {
//	        err = oplog.RecoverError(r)
//	    }
//	}()
func RecoverError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	panic(r)
}
