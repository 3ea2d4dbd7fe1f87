// Package report renders the decisions of a pass for humans.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"skippy/internal/core"
	"skippy/internal/decision"
)

const msgNoDecisions = "No decisions recorded"

// Options controls rendering.
type Options struct {
	// Color enables ANSI colours for actions.
	Color bool
	// Action limits the table to one action. Empty shows all.
	Action core.Action
}

// WriteDecisions prints a table of decisions followed by a summary.
func WriteDecisions(w io.Writer, decisions []core.Decision, opts Options) error {
	if len(decisions) == 0 {
		_, err := fmt.Fprintln(w, msgNoDecisions)
		return err
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	tbl.AppendHeader(table.Row{"#", "Test", "Action", "Reason"})

	paint := actionPainter(opts.Color)
	shown := 0
	for i, d := range decisions {
		if opts.Action != "" && d.Action != opts.Action {
			continue
		}
		tbl.AppendRow(table.Row{i + 1, string(d.Test), paint(d.Action), string(d.Reason)})
		shown++
	}
	if shown > 0 {
		tbl.Render()
	}

	_, err := fmt.Fprintln(w, Summary(decision.Summarize(decisions)))
	return err
}

// Summary renders counts as a single line, e.g.
// "1,204 tests: 37 execute, 1,167 skip (96.9% skipped)".
func Summary(s decision.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s tests: %s execute, %s skip",
		humanize.Comma(int64(s.Total)), humanize.Comma(int64(s.Execute)), humanize.Comma(int64(s.Skip)))
	if s.Total > 0 {
		pct := float64(s.Skip) * 100 / float64(s.Total)
		fmt.Fprintf(&b, " (%s%% skipped)", humanize.FtoaWithDigits(pct, 1))
	}

	reasons := make([]string, 0, len(s.ByReason))
	for r := range s.ByReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		fmt.Fprintf(&b, "\n  %s: %s", r, humanize.Comma(int64(s.ByReason[core.Reason(r)])))
	}
	return b.String()
}

// Written describes when the decision log was produced, e.g.
// "decisions.log written 3 minutes ago".
func Written(path string, modTime, now time.Time) string {
	return fmt.Sprintf("%s written %s", path, humanize.RelTime(modTime, now, "ago", "from now"))
}

func actionPainter(enabled bool) func(core.Action) string {
	execute := color.New(color.FgYellow, color.Bold)
	skip := color.New(color.FgGreen)
	if enabled {
		execute.EnableColor()
		skip.EnableColor()
	} else {
		execute.DisableColor()
		skip.DisableColor()
	}
	return func(a core.Action) string {
		switch a {
		case core.ActionExecute:
			return execute.Sprint(string(a))
		case core.ActionSkip:
			return skip.Sprint(string(a))
		default:
			return string(a)
		}
	}
}
