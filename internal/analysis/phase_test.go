package analysis

import "testing"

func TestTransition_HappyPath(t *testing.T) {
	p := PhaseStart
	path := []Phase{PhaseLoading, PhaseHashing, PhaseDeciding, PhaseLogging, PhaseExecuting, PhaseCommitting, PhaseDone}
	for _, to := range path {
		if err := Transition(&p, p, to); err != nil {
			t.Fatalf("expected valid transition to %s, got %v", to, err)
		}
	}
	if p != PhaseDone {
		t.Fatalf("expected DONE, got %s", p)
	}
}

func TestTransition_DecideOnlyEndsAfterLogging(t *testing.T) {
	p := PhaseLogging
	if err := Transition(&p, PhaseLogging, PhaseDone); err != nil {
		t.Fatalf("LOGGING -> DONE should be allowed: %v", err)
	}
	p = PhaseDeciding
	if err := Transition(&p, PhaseDeciding, PhaseDone); err == nil {
		t.Fatalf("DECIDING -> DONE must be rejected")
	}
}

func TestTransition_FailedFromEveryWorkingPhase(t *testing.T) {
	for _, from := range []Phase{PhaseLoading, PhaseHashing, PhaseDeciding, PhaseLogging, PhaseExecuting, PhaseCommitting} {
		p := from
		if err := Transition(&p, from, PhaseFailed); err != nil {
			t.Fatalf("%s -> FAILED should be allowed: %v", from, err)
		}
	}
}

func TestTransition_Rejected(t *testing.T) {
	cases := []struct{ from, to Phase }{
		{PhaseStart, PhaseHashing},
		{PhaseStart, PhaseFailed},
		{PhaseLoading, PhaseDeciding},
		{PhaseExecuting, PhaseLogging},
		{PhaseDone, PhaseLoading},
		{PhaseDone, PhaseFailed},
		{PhaseFailed, PhaseLoading},
	}
	for _, tc := range cases {
		p := tc.from
		if err := Transition(&p, tc.from, tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		if p != tc.from {
			t.Fatalf("rejected transition mutated phase to %s", p)
		}
	}
}

func TestTransition_StaleFrom(t *testing.T) {
	p := PhaseHashing
	if err := Transition(&p, PhaseLoading, PhaseHashing); err == nil {
		t.Fatalf("expected error for stale expected phase")
	}
	if err := Transition(nil, PhaseStart, PhaseLoading); err == nil {
		t.Fatalf("expected error for nil phase")
	}
}
