package analysis

import (
	"skippy/internal/core"
	"skippy/internal/decision"
)

// AnalysisState is everything one pass knows. It is created by Run and never
// outlives it.
type AnalysisState struct {
	PassID string
	Phase  Phase

	// Prior is the registry of the last successful pass.
	Prior core.Fingerprints
	// Coverage holds the persisted coverage records, keyed by test.
	Coverage map[core.ClassName]core.CoverageSet

	// Classes are the class files found in this pass.
	Classes []core.ClassFile
	// Current is the fingerprint snapshot of Classes.
	Current core.Fingerprints
	// Tests are the known tests in discovery order.
	Tests []core.ClassName

	Log *decision.Log

	// Executed maps each test handed to the executor to its fresh coverage.
	// A nil set means the executor reported none.
	Executed map[core.ClassName]core.CoverageSet
}

func newAnalysisState(passID string) *AnalysisState {
	return &AnalysisState{
		PassID: passID,
		Phase:  PhaseStart,
		Log:    decision.NewLog(),
	}
}

func (s *AnalysisState) inputs() decision.Inputs {
	return decision.Inputs{Current: s.Current, Prior: s.Prior, Coverage: s.Coverage}
}
