package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"skippy/internal/decision"
	"skippy/internal/report"
	"skippy/internal/store"
)

func newDecisionsCommand(opts *rootOptions) *cobra.Command {
	var (
		action  string
		noColor bool
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the decisions of the last pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseAction(action)
			if err != nil {
				return err
			}
			e, err := loadEnv(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			dir := e.cfg.StateDir()
			decisions, err := decision.ReadLog(dir)
			if errors.Is(err, fs.ErrNotExist) {
				return report.WriteDecisions(out, nil, report.Options{})
			}
			if err != nil {
				return &InvocationError{ExitCode: ExitInternalError, Message: err.Error(), Err: err}
			}

			if err := report.WriteDecisions(out, decisions, report.Options{
				Color:  !noColor && !color.NoColor,
				Action: filter,
			}); err != nil {
				return err
			}

			path := filepath.Join(dir, store.DecisionLogFile)
			if info, err := os.Stat(path); err == nil {
				_, err = fmt.Fprintln(out, report.Written(path, info.ModTime(), time.Now()))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "only show decisions with this action: execute|skip")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable coloured output")

	return cmd
}
