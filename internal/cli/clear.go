package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"skippy/internal/recovery"
)

func newClearCommand(opts *rootOptions) *cobra.Command {
	var code, message string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Wipe persisted state after an upstream build failure",
		Long: `Remove the hash registry, every coverage record and the decision log.

Build integrations call this when compilation, dependency resolution or the
test task itself fails outside an analysis pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := loadEnv(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			defer e.close()

			st, err := e.openState()
			if err != nil {
				return err
			}
			defer st.Close()

			failure, err := recovery.New(st, e.logger).Recover(&recovery.UpstreamFailureError{Code: code, Message: message})
			if err != nil {
				return &InvocationError{ExitCode: ExitInternalError, Message: err.Error(), Err: err}
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "cleared %s (%s)\n", st.Dir(), failure.Code)
			return err
		},
	}

	cmd.Flags().StringVar(&code, "code", "BuildFailed", "failure code recorded in the log")
	cmd.Flags().StringVar(&message, "message", "upstream build failure", "failure message recorded in the log")

	return cmd
}
