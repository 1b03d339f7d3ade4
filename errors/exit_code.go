package errors

import (
	"os/exec"

	"github.com/cockroachdb/errors"
)

// exitCoder wraps an error and specifies an exit code.
type exitCoder struct {
	cause error
	code  int
}

func (e *exitCoder) Error() string {
	return e.cause.Error()
}

func (e *exitCoder) Cause() error {
	return e.cause
}

func (e *exitCoder) Unwrap() error {
	return e.cause
}

// ExitCode returns the exit code.
func (e *exitCoder) ExitCode() int {
	return e.code
}

// WithExitCode attaches an exit code to an error.
// The exit code can be retrieved later using GetExitCode.
func WithExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return &exitCoder{
		cause: err,
		code:  code,
	}
}

// GetExitCode extracts the exit code from an error chain.
// Returns 0 if err is nil, otherwise the attached exit code, the code
// implied by a sentinel in the chain, the code of an exec.ExitError,
// or 1 by default.
func GetExitCode(err error) int {
	if err == nil {
		return ExitCodeOK
	}

	var ec *exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	switch {
	case errors.Is(err, ErrAuthenticationNeeded),
		errors.Is(err, ErrUnauthorizedSSOToken),
		errors.Is(err, ErrPendingAuthorizationExpired),
		errors.Is(err, ErrNoSessionFound),
		errors.Is(err, ErrAmbiguousSession),
		errors.Is(err, ErrMismatchedSession):
		return ExitCodeAuthenticationNeeded
	case errors.Is(err, ErrInvalidSSOConfig),
		errors.Is(err, ErrMissingConfiguration),
		errors.Is(err, ErrConfigProfile),
		errors.Is(err, ErrConfigSession),
		errors.Is(err, ErrInlineSession):
		return ExitCodeInvalidConfig
	case errors.Is(err, ErrAuthDispatch):
		return ExitCodeAuthDispatch
	}

	return 1 // default
}
