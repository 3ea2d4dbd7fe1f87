package decision

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"skippy/internal/core"
)

const (
	h1 core.Hash = "11111111111111111111111111111111"
	h2 core.Hash = "22222222222222222222222222222222"
)

const (
	padder     core.ClassName = "com.example.LeftPadder"
	padderTest core.ClassName = "com.example.LeftPadderTest"
	utils      core.ClassName = "com.example.StringUtils"
)

func TestDecideOne(t *testing.T) {
	baseline := core.Fingerprints{padder: h1, padderTest: h1, utils: h1}

	cases := []struct {
		name   string
		in     Inputs
		action core.Action
		reason core.Reason
	}{
		{
			name:   "no coverage record",
			in:     Inputs{Current: baseline, Prior: baseline},
			action: core.ActionExecute,
			reason: core.ReasonNoCoverageDataForTest,
		},
		{
			name: "nothing changed",
			in: Inputs{
				Current:  baseline,
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionSkip,
			reason: core.ReasonNoChanges,
		},
		{
			name: "covered class changed",
			in: Inputs{
				Current:  core.Fingerprints{padder: h2, padderTest: h1, utils: h1},
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonClassChanged,
		},
		{
			name: "test class itself changed",
			in: Inputs{
				Current:  core.Fingerprints{padder: h1, padderTest: h2},
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonClassChanged,
		},
		{
			name: "uncovered class changed",
			in: Inputs{
				Current:  core.Fingerprints{padder: h1, padderTest: h1, utils: h2},
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionSkip,
			reason: core.ReasonNoChanges,
		},
		{
			name: "covered class deleted",
			in: Inputs{
				Current:  core.Fingerprints{padderTest: h1, utils: h1},
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonNoCoverageDataForClass,
		},
		{
			name: "deletion wins over change",
			in: Inputs{
				Current:  core.Fingerprints{padderTest: h2},
				Prior:    baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonNoCoverageDataForClass,
		},
		{
			name: "covered class absent from prior registry",
			in: Inputs{
				Current:  baseline,
				Prior:    core.Fingerprints{padderTest: h1},
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonClassChanged,
		},
		{
			name: "empty prior registry",
			in: Inputs{
				Current:  baseline,
				Coverage: map[core.ClassName]core.CoverageSet{padderTest: core.NewCoverageSet(padder)},
			},
			action: core.ActionExecute,
			reason: core.ReasonClassChanged,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideOne(padderTest, tc.in)
			want := core.Decision{Test: padderTest, Action: tc.action, Reason: tc.reason}
			assert.Equal(t, want, got)
		})
	}
}

func TestDecide_OrderAndDuplicates(t *testing.T) {
	fp := core.Fingerprints{"a.BTest": h1, "a.ATest": h1, "a.CTest": h1}
	in := Inputs{
		Current:  fp,
		Prior:    fp,
		Coverage: map[core.ClassName]core.CoverageSet{"a.ATest": core.NewCoverageSet()},
	}

	got := Decide([]core.ClassName{"a.BTest", "a.ATest", "", "a.BTest", "a.CTest"}, in)
	want := []core.Decision{
		{Test: "a.BTest", Action: core.ActionExecute, Reason: core.ReasonNoCoverageDataForTest},
		{Test: "a.ATest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
		{Test: "a.CTest", Action: core.ActionExecute, Reason: core.ReasonNoCoverageDataForTest},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
}

func TestDecide_DoesNotMutateInputs(t *testing.T) {
	cov := core.NewCoverageSet(padder)
	in := Inputs{
		Current:  core.Fingerprints{padder: h1, padderTest: h1},
		Prior:    core.Fingerprints{padder: h1, padderTest: h1},
		Coverage: map[core.ClassName]core.CoverageSet{padderTest: cov},
	}
	_ = Decide([]core.ClassName{padderTest}, in)

	assert.False(t, cov.Has(padderTest), "coverage set must not be extended in place")
	assert.Len(t, in.Current, 2)
}

func TestToExecuteAndSummarize(t *testing.T) {
	ds := []core.Decision{
		{Test: "a.ATest", Action: core.ActionExecute, Reason: core.ReasonClassChanged},
		{Test: "a.BTest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
		{Test: "a.CTest", Action: core.ActionExecute, Reason: core.ReasonNoCoverageDataForTest},
		{Test: "a.DTest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
	}

	assert.Equal(t, []core.ClassName{"a.ATest", "a.CTest"}, ToExecute(ds))
	assert.Empty(t, ToExecute(nil))

	s := Summarize(ds)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Execute)
	assert.Equal(t, 2, s.Skip)
	assert.Equal(t, map[core.Reason]int{
		core.ReasonClassChanged:          1,
		core.ReasonNoChanges:             2,
		core.ReasonNoCoverageDataForTest: 1,
	}, s.ByReason)
}
