// Package decision derives the EXECUTE/SKIP verdict for every known test and
// records the verdicts of a pass in decisions.log.
//
// The engine is a pure function of its inputs: it performs no I/O, never
// fails, and resolves every missing piece of information to EXECUTE.
package decision

import (
	"skippy/internal/core"
)

// Inputs is the read-only view of an analysis pass the rules evaluate.
type Inputs struct {
	// Current holds the fingerprints computed in this pass.
	Current core.Fingerprints
	// Prior holds the registry of the last successful pass (may be empty).
	Prior core.Fingerprints
	// Coverage holds the persisted coverage record per test.
	Coverage map[core.ClassName]core.CoverageSet
}

// rule is one predicate -> verdict step. Rules are evaluated in order and the
// first match wins.
type rule struct {
	action core.Action
	reason core.Reason
	match  func(test core.ClassName, covered core.CoverageSet, in Inputs) bool
}

var rules = []rule{
	{
		action: core.ActionExecute,
		reason: core.ReasonNoCoverageDataForTest,
		match: func(_ core.ClassName, covered core.CoverageSet, _ Inputs) bool {
			return covered == nil
		},
	},
	{
		action: core.ActionExecute,
		reason: core.ReasonNoCoverageDataForClass,
		match: func(_ core.ClassName, covered core.CoverageSet, in Inputs) bool {
			for c := range covered {
				if _, ok := in.Current[c]; !ok {
					return true
				}
			}
			return false
		},
	},
	{
		action: core.ActionExecute,
		reason: core.ReasonClassChanged,
		match: func(_ core.ClassName, covered core.CoverageSet, in Inputs) bool {
			for c := range covered {
				prior, ok := in.Prior[c]
				if !ok || prior != in.Current[c] {
					return true
				}
			}
			return false
		},
	},
}

var fallback = rule{action: core.ActionSkip, reason: core.ReasonNoChanges}

// DecideOne evaluates the rule chain for a single test.
func DecideOne(test core.ClassName, in Inputs) core.Decision {
	var covered core.CoverageSet
	if set, ok := in.Coverage[test]; ok && set != nil {
		covered = set.With(test)
	}
	for _, r := range rules {
		if r.match(test, covered, in) {
			return core.Decision{Test: test, Action: r.action, Reason: r.reason}
		}
	}
	return core.Decision{Test: test, Action: fallback.action, Reason: fallback.reason}
}

// Decide returns one decision per distinct test, in the order tests were
// given. Repeated tests keep their first position.
func Decide(tests []core.ClassName, in Inputs) []core.Decision {
	seen := make(map[core.ClassName]struct{}, len(tests))
	out := make([]core.Decision, 0, len(tests))
	for _, t := range tests {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, DecideOne(t, in))
	}
	return out
}

// ToExecute returns the tests whose decision is EXECUTE, preserving order.
func ToExecute(decisions []core.Decision) []core.ClassName {
	var out []core.ClassName
	for _, d := range decisions {
		if d.Action == core.ActionExecute {
			out = append(out, d.Test)
		}
	}
	return out
}

// Summary counts decisions by action and by reason.
type Summary struct {
	Total    int
	Execute  int
	Skip     int
	ByReason map[core.Reason]int
}

// Summarize tallies decisions.
func Summarize(decisions []core.Decision) Summary {
	s := Summary{Total: len(decisions), ByReason: make(map[core.Reason]int)}
	for _, d := range decisions {
		switch d.Action {
		case core.ActionExecute:
			s.Execute++
		case core.ActionSkip:
			s.Skip++
		}
		s.ByReason[d.Reason]++
	}
	return s
}
