package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{&NotFoundError{ID: "t1"}, ErrNotFound},
		{&TransitionError{TaskID: "t1", Current: "completed", Attempted: "cancelled"}, ErrInvalidTransition},
		{NewStorageError("sqlite", "list", StorageData, stderrors.New("boom")), ErrStorageData},
		{NewStorageError("sqlite", "list", StorageIO, stderrors.New("boom")), ErrStorageIO},
		{&HookError{HookID: "h", Event: "task.pre_add", Err: stderrors.New("boom")}, ErrHookExec},
	}
	for _, tc := range cases {
		assert.ErrorIs(t, tc.err, tc.sentinel, "%T", tc.err)
	}
}

func TestOpErrorKeepsCauseReachable(t *testing.T) {
	cause := &NotFoundError{ID: "t1"}
	err := &OpError{Action: "complete task", Err: cause}

	assert.ErrorIs(t, err, ErrNotFound)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "t1", nf.ID)
	assert.Contains(t, err.Error(), "complete task")
}

func TestStorageErrorKindsAreDisjoint(t *testing.T) {
	data := NewStorageError("document", "parse", StorageData, stderrors.New("bad json"))
	assert.ErrorIs(t, data, ErrStorageData)
	assert.NotErrorIs(t, data, ErrStorageIO)

	io := NewStorageError("document", "write", StorageIO, stderrors.New("disk full"))
	assert.ErrorIs(t, io, ErrStorageIO)
	assert.NotErrorIs(t, io, ErrStorageData)
}

func TestValidationf(t *testing.T) {
	err := Validationf("name must not be empty, got %q", "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), `got ""`)
}

func TestIsRetryable(t *testing.T) {
	locked := NewStorageError("sqlite", "upsert", StorageIO, stderrors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.True(t, IsRetryable(locked))
	assert.True(t, IsRetryable(fmt.Errorf("commit upsert: %w", locked)))

	corrupt := NewStorageError("sqlite", "list", StorageData, stderrors.New("database is locked"))
	assert.False(t, IsRetryable(corrupt), "data errors never retry")

	plainIO := NewStorageError("document", "write", StorageIO, stderrors.New("permission denied"))
	assert.False(t, IsRetryable(plainIO))

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(stderrors.New("database is locked")), "raw errors are not classified")
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(stderrors.New("database is locked")))
	assert.True(t, IsBusy(stderrors.New("constraint failed (SQLITE_LOCKED)")))
	assert.False(t, IsBusy(stderrors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
