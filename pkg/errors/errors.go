package errors

import (
	"errors"
	"fmt"
)

// Process exit codes reported by the CLI.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitDegraded = 2
)

// AppError provides a structured error that can be rendered to operators and
// mapped onto a process exit code.
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ExitCode int    `json:"-"`
	Internal error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches two AppErrors by code so sentinel comparisons survive WithInternal copies.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e != nil && other != nil && e.Code == other.Code
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// Common errors exposed to the rest of the application.
var (
	ErrFileAccess = &AppError{
		Code:     "scanner.file_access",
		Message:  "Source file or directory could not be read",
		ExitCode: ExitDegraded,
	}

	ErrPermissionDenied = &AppError{
		Code:     "store.permission_denied",
		Message:  "Store rejected access to the resource",
		ExitCode: ExitDegraded,
	}

	ErrProbeFailed = &AppError{
		Code:     "store.probe_failed",
		Message:  "Resource probe failed for a reason other than authorization",
		ExitCode: ExitDegraded,
	}

	ErrDeploymentFailed = &AppError{
		Code:     "deploy.failed",
		Message:  "Configuration deployment failed",
		ExitCode: ExitFailure,
	}

	ErrRemediationPartial = &AppError{
		Code:     "monitor.remediation_partial",
		Message:  "Remediation completed but some resources still fail verification",
		ExitCode: ExitDegraded,
	}

	ErrInvalidConfig = &AppError{
		Code:     "config.invalid",
		Message:  "Configuration is invalid",
		ExitCode: ExitFailure,
	}

	ErrNotFound = &AppError{
		Code:     "not_found",
		Message:  "Record not found",
		ExitCode: ExitFailure,
	}

	ErrInternal = &AppError{
		Code:     "internal",
		Message:  "Internal error",
		ExitCode: ExitFailure,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, exitCode int) *AppError {
	return &AppError{
		Code:     code,
		Message:  message,
		ExitCode: exitCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:     ErrInternal.Code,
		Message:  message,
		ExitCode: ExitFailure,
		Internal: err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternal.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternal.WithInternal(err)
}

// ExitCodeFor reports the process exit code an error maps to. A nil error is
// success; errors that are not AppErrors are fatal.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	return FromError(err).ExitCode
}
