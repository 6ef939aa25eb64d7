package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")
)

// Pipeline error taxonomy.
var (
	// ErrAlreadyQueued: an active item already exists for the document. Caller error, not retried.
	ErrAlreadyQueued = errors.New("document already queued")
	// ErrInvalidState: cancel/retry against an item in the wrong status.
	ErrInvalidState = errors.New("invalid queue item state")
	// ErrEngineTimeout and ErrEngineCallFailed are per-attempt; the orchestrator falls back.
	ErrEngineTimeout    = errors.New("engine timeout")
	ErrEngineCallFailed = errors.New("engine call failed")
	// ErrAllEnginesFailed is recoverable at the queue level via backoff.
	ErrAllEnginesFailed = errors.New("all engines failed")
	// ErrTerminalFailure marks an item whose attempts are exhausted.
	ErrTerminalFailure = errors.New("terminal failure")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Recoverable reports whether a processing error should be retried with backoff.
// Caller errors and terminal failures are not.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrAlreadyQueued),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrTerminalFailure):
		return false
	}
	return true
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func InternalErrorf(format string, args ...interface{}) error {
	return InternalError(fmt.Sprintf(format, args...))
}

// ToStatus maps the pipeline taxonomy onto gRPC status codes.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrAlreadyQueued):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
