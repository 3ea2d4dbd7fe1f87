// Package analysis coordinates one analysis pass: load persisted state,
// fingerprint classes, decide, log, execute the selected tests and commit.
package analysis

import "fmt"

// Phase is the coordinator's position in a pass.
type Phase string

const (
	PhaseStart      Phase = "START"
	PhaseLoading    Phase = "LOADING"
	PhaseHashing    Phase = "HASHING"
	PhaseDeciding   Phase = "DECIDING"
	PhaseLogging    Phase = "LOGGING"
	PhaseExecuting  Phase = "EXECUTING"
	PhaseCommitting Phase = "COMMITTING"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// IsTerminal reports whether no further transition is possible from p.
func IsTerminal(p Phase) bool {
	return p == PhaseDone || p == PhaseFailed
}

// next lists the forward path of a successful pass.
var next = map[Phase]Phase{
	PhaseStart:      PhaseLoading,
	PhaseLoading:    PhaseHashing,
	PhaseHashing:    PhaseDeciding,
	PhaseDeciding:   PhaseLogging,
	PhaseLogging:    PhaseExecuting,
	PhaseExecuting:  PhaseCommitting,
	PhaseCommitting: PhaseDone,
}

// earlyExit lists the phases a decide-only pass may finish from.
var earlyExit = map[Phase]Phase{
	PhaseLogging: PhaseDone,
}

// Transition moves *cur from `from` to `to`.
//
// The caller supplies the expected current phase so that out-of-order calls
// are reported instead of silently applied. *cur is changed only when the
// transition is valid.
func Transition(cur *Phase, from, to Phase) error {
	if cur == nil {
		return fmt.Errorf("nil phase")
	}
	if *cur != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, *cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	*cur = to
	return nil
}

func isAllowedTransition(from, to Phase) bool {
	if IsTerminal(from) {
		return false
	}
	if to == PhaseFailed {
		return from != PhaseStart
	}
	return next[from] == to || earlyExit[from] == to
}
