package oplog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/testutil"
)

func TestError_Message(t *testing.T) {
	err := NewEntryMissingError(testutil.Worker("w"), 7)
	assert.Equal(t, "OPLOG_ENTRY_MISSING: missing oplog entry (worker=test-env/test-component:w, index=7)", err.Error())

	err = NewAlreadyExistsError(testutil.Worker("w"))
	assert.Equal(t, "OPLOG_ALREADY_EXISTS: oplog already exists (worker=test-env/test-component:w)", err.Error())
}

func TestError_HelpersSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("activate worker: %w", NewEntryMissingError(testutil.Worker("w"), 3))

	assert.True(t, IsEntryMissing(wrapped))
	assert.False(t, IsAlreadyExists(wrapped))
	assert.False(t, IsEntryMissing(errors.New("other")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk on fire")
	err := &Error{Code: ErrCodePayloadNotFound, Message: "gone", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestRecoverError(t *testing.T) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = RecoverError(r)
			}
		}()
		panic(NewCreateNotAllowedError(testutil.Worker("w"), "read only"))
	}()
	require.Error(t, err)
	assert.True(t, IsCreateNotAllowed(err))

	assert.Panics(t, func() { _ = RecoverError("not an error") })
}
