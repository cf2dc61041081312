// Package shared holds helpers common to the CLI commands.
package shared

import (
	stderrors "errors"

	"github.com/cascade-run/cascade/pkg/errors"
)

// Process exit codes. Validation and compile problems exit 2 so scripts can
// tell a bad definition from a run that failed.
const (
	ExitOK         = 0
	ExitRunFailure = 1
	ExitInvalid    = 2
)

// ExitError carries an explicit exit code through cobra's error return.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit"
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exit wraps err with an explicit exit code.
func Exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// CodeFor maps an error to a process exit code.
func CodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	var (
		vErr *errors.ValidationError
		cErr *errors.CompileError
	)
	if stderrors.As(err, &vErr) || stderrors.As(err, &cErr) {
		return ExitInvalid
	}
	return ExitRunFailure
}
