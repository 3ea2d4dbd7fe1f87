package recovery

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass groups failures by origin.
type FailureClass string

const (
	FailureClassUpstream  FailureClass = "upstream"
	FailureClassIO        FailureClass = "io"
	FailureClassExecution FailureClass = "execution"
	FailureClassSystem    FailureClass = "system"
)

// Failure is the classified form of an error that aborted a pass.
type Failure struct {
	Class   FailureClass `json:"failure_class"`
	Test    string       `json:"test,omitempty"`
	Code    string       `json:"error_code"`
	Message string       `json:"error_message"`
}

// UpstreamFailureError reports a failure of the surrounding build (compilation,
// dependency resolution, test task) that the engine is told about.
type UpstreamFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *UpstreamFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("upstream failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("upstream failure: %s", e.Message)
}

func (e *UpstreamFailureError) Unwrap() error { return e.Cause }

// IOFailureError reports a read or write failure on class files or state.
type IOFailureError struct {
	Op    string
	Path  string
	Cause error
}

func (e *IOFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Path != "" {
		return fmt.Sprintf("io failure (%s) %s: %v", e.Op, e.Path, e.Cause)
	}
	return fmt.Sprintf("io failure (%s): %v", e.Op, e.Cause)
}

func (e *IOFailureError) Unwrap() error { return e.Cause }

// ExecutionFailureError reports that running the selected tests failed.
// Test is set when the failure is attributable to a single test class.
type ExecutionFailureError struct {
	Test    string
	Code    string
	Message string
	Cause   error
}

func (e *ExecutionFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Test != "" && e.Code != "" {
		return fmt.Sprintf("execution failure test=%s (%s): %s", e.Test, e.Code, e.Message)
	}
	if e.Test != "" {
		return fmt.Sprintf("execution failure test=%s: %s", e.Test, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("execution failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("execution failure: %s", e.Message)
}

func (e *ExecutionFailureError) Unwrap() error { return e.Cause }

// SystemFailureError reports cancellation, invariant violations and other
// failures outside the pass's own inputs.
type SystemFailureError struct {
	Code    string
	Message string
	Cause   error
}

func (e *SystemFailureError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("system failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("system failure: %s", e.Message)
}

func (e *SystemFailureError) Unwrap() error { return e.Cause }

// ClassifyFailure maps err onto the failure taxonomy. Errors outside the
// taxonomy are reported as system failures; context cancellation and
// deadlines get dedicated codes.
func ClassifyFailure(err error) Failure {
	if err == nil {
		return Failure{Class: FailureClassSystem, Code: "NilError", Message: "nil error"}
	}

	var uf *UpstreamFailureError
	if errors.As(err, &uf) && uf != nil {
		return Failure{
			Class:   FailureClassUpstream,
			Code:    nonEmptyOr(uf.Code, "UpstreamFailure"),
			Message: nonEmptyOr(uf.Message, uf.Error()),
		}
	}

	var ef *ExecutionFailureError
	if errors.As(err, &ef) && ef != nil {
		return Failure{
			Class:   FailureClassExecution,
			Test:    ef.Test,
			Code:    nonEmptyOr(ef.Code, "ExecutionFailure"),
			Message: nonEmptyOr(ef.Message, ef.Error()),
		}
	}

	var iof *IOFailureError
	if errors.As(err, &iof) && iof != nil {
		return Failure{
			Class:   FailureClassIO,
			Code:    nonEmptyOr(iof.Op, "IOFailure"),
			Message: iof.Error(),
		}
	}

	var sf *SystemFailureError
	if errors.As(err, &sf) && sf != nil {
		return Failure{
			Class:   FailureClassSystem,
			Code:    nonEmptyOr(sf.Code, "SystemFailure"),
			Message: nonEmptyOr(sf.Message, sf.Error()),
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return Failure{Class: FailureClassSystem, Code: "Cancelled", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Class: FailureClassSystem, Code: "DeadlineExceeded", Message: err.Error()}
	}

	return Failure{Class: FailureClassSystem, Code: "UnknownError", Message: err.Error()}
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
