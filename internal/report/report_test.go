package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skippy/internal/core"
	"skippy/internal/decision"
)

var sample = []core.Decision{
	{Test: "com.example.LeftPadderTest", Action: core.ActionExecute, Reason: core.ReasonClassChanged},
	{Test: "com.example.RightPadderTest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
	{Test: "com.example.StringUtilsTest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
}

func TestWriteDecisions_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDecisions(&buf, sample, Options{}))

	out := buf.String()
	assert.Contains(t, out, "com.example.LeftPadderTest")
	assert.Contains(t, out, "CLASS_CHANGED")
	assert.Contains(t, out, "3 tests: 1 execute, 2 skip (66.7% skipped)")
	assert.NotContains(t, out, "\x1b[", "colour disabled")
}

func TestWriteDecisions_FilterAndColor(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDecisions(&buf, sample, Options{Action: core.ActionExecute, Color: true}))

	out := buf.String()
	assert.Contains(t, out, "com.example.LeftPadderTest")
	assert.NotContains(t, out, "com.example.RightPadderTest")
	assert.Contains(t, out, "\x1b[")
}

func TestWriteDecisions_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDecisions(&buf, nil, Options{}))
	assert.Equal(t, msgNoDecisions+"\n", buf.String())
}

func TestSummary_LargeCounts(t *testing.T) {
	s := decision.Summary{
		Total:    1204,
		Execute:  37,
		Skip:     1167,
		ByReason: map[core.Reason]int{core.ReasonNoChanges: 1167, core.ReasonClassChanged: 37},
	}
	got := Summary(s)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1,204 tests: 37 execute, 1,167 skip (96.9% skipped)", lines[0])
	assert.Equal(t, "  CLASS_CHANGED: 37", lines[1])
	assert.Equal(t, "  NO_CHANGES: 1,167", lines[2])
}

func TestWritten(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := Written("skippy/decisions.log", now.Add(-3*time.Minute), now)
	assert.Equal(t, "skippy/decisions.log written 3 minutes ago", got)
}
