package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"skippy/internal/core"
	"skippy/internal/recovery"
)

const (
	ExitSuccess           = 0
	ExitAnalysisFailure   = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// InvocationError carries the exit code a command failure maps to.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(err error) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: err.Error(), Err: err}
}

func analysisError(err error) error {
	return &InvocationError{ExitCode: ExitAnalysisFailure, Message: fmt.Sprintf("analysis failed: %v", err), Err: err}
}

// canonicalProjectDir makes dir absolute so every derived path is stable for
// the rest of the command, whatever the process does with its working dir.
func canonicalProjectDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", invalidInvocationf("--project-dir must not be empty")
	}
	abs, err := filepath.Abs(filepath.Clean(dir))
	if err != nil {
		return "", invalidInvocationf("resolve --project-dir %q: %v", dir, err)
	}
	return abs, nil
}

func parseAction(raw string) (core.Action, error) {
	n := core.Action(strings.ToUpper(strings.TrimSpace(raw)))
	switch n {
	case "", core.ActionExecute, core.ActionSkip:
		return n, nil
	default:
		return "", invalidInvocationf("invalid --action %q (expected execute|skip)", raw)
	}
}

// ExitCode maps a command error to a semantic exit code.
//
// Typed invocation errors carry their own code. Pass failures that escaped
// without one are still analysis failures; anything else is internal.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	if isPassFailure(err) {
		return ExitAnalysisFailure
	}
	return ExitInternalError
}

func isPassFailure(err error) bool {
	var (
		upstream *recovery.UpstreamFailureError
		io       *recovery.IOFailureError
		exec     *recovery.ExecutionFailureError
		system   *recovery.SystemFailureError
	)
	return errors.As(err, &upstream) || errors.As(err, &io) || errors.As(err, &exec) || errors.As(err, &system) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
