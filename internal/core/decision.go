package core

import (
	"fmt"
	"strings"
)

// Action is the verdict for one test in one analysis pass.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionSkip    Action = "SKIP"
)

// Reason explains an Action.
//
// The string values are part of the decisions.log format; do not rename.
type Reason string

const (
	ReasonNoCoverageDataForTest  Reason = "NO_COVERAGE_DATA_FOR_TEST"
	ReasonNoCoverageDataForClass Reason = "NO_COVERAGE_DATA_FOR_CLASS"
	ReasonClassChanged           Reason = "CLASS_CHANGED"
	ReasonNoChanges              Reason = "NO_CHANGES"
)

// Valid reports whether r is one of the known reason codes.
func (r Reason) Valid() bool {
	switch r {
	case ReasonNoCoverageDataForTest, ReasonNoCoverageDataForClass, ReasonClassChanged, ReasonNoChanges:
		return true
	default:
		return false
	}
}

// Decision is the derived (Action, Reason) for a single test.
type Decision struct {
	Test   ClassName
	Action Action
	Reason Reason
}

// String renders the decision in decisions.log line format:
//
//	<TestClassName>:<Action>:<Reason>
func (d Decision) String() string {
	return fmt.Sprintf("%s:%s:%s", d.Test, d.Action, d.Reason)
}

// ParseDecision parses a single decisions.log line.
func ParseDecision(line string) (Decision, error) {
	// Action and reason never contain ':', the test name may.
	line = strings.TrimRight(line, "\r\n")
	reasonAt := strings.LastIndexByte(line, ':')
	if reasonAt < 0 {
		return Decision{}, fmt.Errorf("malformed decision line %q", line)
	}
	actionAt := strings.LastIndexByte(line[:reasonAt], ':')
	if actionAt < 0 {
		return Decision{}, fmt.Errorf("malformed decision line %q", line)
	}
	d := Decision{
		Test:   ClassName(line[:actionAt]),
		Action: Action(line[actionAt+1 : reasonAt]),
		Reason: Reason(line[reasonAt+1:]),
	}
	if d.Test == "" {
		return Decision{}, fmt.Errorf("malformed decision line %q: empty test", line)
	}
	if d.Action != ActionExecute && d.Action != ActionSkip {
		return Decision{}, fmt.Errorf("malformed decision line %q: unknown action %q", line, d.Action)
	}
	if !d.Reason.Valid() {
		return Decision{}, fmt.Errorf("malformed decision line %q: unknown reason %q", line, d.Reason)
	}
	return d, nil
}
