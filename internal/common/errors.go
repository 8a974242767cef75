package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Kind    error
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// Error kinds. Match with errors.Is.
var (
	ErrInputLoad       = errors.New("input load error")
	ErrRender          = errors.New("render error")
	ErrRecordInvalid   = errors.New("record invalid")
	ErrCompileFailure  = errors.New("compile failure")
	ErrTimeout         = errors.New("timeout")
	ErrCleanup         = errors.New("cleanup error")
	ErrParse           = errors.New("parse error")
	ErrEmptyInput      = errors.New("empty input")
	ErrInvalidArgument = errors.New("invalid argument")
)

var kindCodes = map[error]string{
	ErrInputLoad:       "INPUT_LOAD",
	ErrRender:          "RENDER",
	ErrRecordInvalid:   "RECORD_INVALID",
	ErrCompileFailure:  "COMPILE_FAILURE",
	ErrTimeout:         "TIMEOUT",
	ErrCleanup:         "CLEANUP",
	ErrParse:           "PARSE",
	ErrEmptyInput:      "EMPTY_INPUT",
	ErrInvalidArgument: "INVALID_ARGUMENT",
}

// NewAppError builds an error of the given kind.
func NewAppError(kind error, message string, cause error) *AppError {
	code, ok := kindCodes[kind]
	if !ok {
		code = "INTERNAL"
	}
	return &AppError{
		Code:    code,
		Message: message,
		Kind:    kind,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func InputLoadError(message string, cause error) error {
	return NewAppError(ErrInputLoad, message, cause)
}

func InputLoadErrorf(format string, args ...interface{}) error {
	return NewAppError(ErrInputLoad, fmt.Sprintf(format, args...), nil)
}

func RenderError(message string, cause error) error {
	return NewAppError(ErrRender, message, cause)
}

func RecordInvalidError(row int, cause error) error {
	return NewAppError(ErrRecordInvalid, fmt.Sprintf("record %d", row), cause)
}

func CompileFailureError(artifact string, cause error) error {
	return NewAppError(ErrCompileFailure, fmt.Sprintf("artifact %s not produced", artifact), cause)
}

func TimeoutError(pass string, cause error) error {
	return NewAppError(ErrTimeout, fmt.Sprintf("%s pass exceeded its deadline", pass), cause)
}

func CleanupError(path string, cause error) error {
	return NewAppError(ErrCleanup, fmt.Sprintf("remove %s", path), cause)
}

// ParseError names the offending document path.
func ParseError(path string, cause error) error {
	return NewAppError(ErrParse, fmt.Sprintf("malformed document %s", path), cause)
}

func EmptyInputError(message string) error {
	return NewAppError(ErrEmptyInput, message, nil)
}

func InvalidArgumentError(message string) error {
	return NewAppError(ErrInvalidArgument, message, nil)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
