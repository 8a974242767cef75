package common

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorKinds(t *testing.T) {
	cause := fs.ErrPermission
	tests := []struct {
		err  error
		kind error
		code string
	}{
		{InputLoadError("read table", cause), ErrInputLoad, "INPUT_LOAD"},
		{RenderError("unresolved names: a", nil), ErrRender, "RENDER"},
		{RecordInvalidError(3, cause), ErrRecordInvalid, "RECORD_INVALID"},
		{CompileFailureError("x-moodle.xml", nil), ErrCompileFailure, "COMPILE_FAILURE"},
		{TimeoutError("primary-1", context.DeadlineExceeded), ErrTimeout, "TIMEOUT"},
		{CleanupError("x.aux", cause), ErrCleanup, "CLEANUP"},
		{ParseError("a.xml", nil), ErrParse, "PARSE"},
		{EmptyInputError("nothing"), ErrEmptyInput, "EMPTY_INPUT"},
		{InvalidArgumentErrorf("bad %d", 1), ErrInvalidArgument, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			var app *AppError
			require.ErrorAs(t, tt.err, &app)
			assert.Equal(t, tt.code, app.Code)
		})
	}
}

func TestAppErrorKeepsCause(t *testing.T) {
	err := fmt.Errorf("job 2: %w", TimeoutError("auxiliary", context.DeadlineExceeded))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrCompileFailure)
	assert.Equal(t, "job 2: TIMEOUT: auxiliary pass exceeded its deadline: context deadline exceeded", err.Error())
}

func TestUnknownKind(t *testing.T) {
	other := errors.New("other")
	err := NewAppError(other, "m", nil)
	assert.Equal(t, "INTERNAL", err.Code)
	assert.ErrorIs(t, err, other)
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError(nil, "open ledger"))
	err := WrapError(InvalidArgumentError("ledger DSN is empty"), "open ledger")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "open ledger: INVALID_ARGUMENT: ledger DSN is empty", err.Error())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunIDFromContext(ctx))
	assert.Empty(t, JobTokenFromContext(ctx))

	ctx = WithJobToken(WithRunID(ctx, "run-1"), "abc")
	assert.Equal(t, "run-1", RunIDFromContext(ctx))
	assert.Equal(t, "abc", JobTokenFromContext(ctx))
}
