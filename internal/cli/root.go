// Package cli implements the skippy command line.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"skippy/internal/config"
	"skippy/internal/observability"
	"skippy/internal/store"
)

// Version is stamped at build time with -ldflags "-X skippy/internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configPath string
}

// NewRootCommand builds the skippy command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "skippy",
		Short: "Predictive test selection for JVM builds",
		Long: `skippy decides which test classes must run by comparing class fingerprints
against the coverage recorded by earlier passes.

Commands:
  analyze     Run one analysis pass and execute the selected tests
  clear       Wipe persisted state after an upstream build failure
  decisions   Show the decisions of the last pass`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default <project-dir>/skippy.yaml)")
	pf.String("project-dir", config.DefaultProjectDir, "project root; relative paths resolve against it")
	pf.String("state-dir", config.DefaultStateDir, "state directory")
	pf.String("backend", config.DefaultStateBackend, "state backend: files|sqlite")
	pf.String("log-level", config.DefaultLoggingLevel, "log level")
	pf.String("log-format", config.DefaultLoggingFormat, "log format: json|console")

	root.AddCommand(newAnalyzeCommand(opts))
	root.AddCommand(newClearCommand(opts))
	root.AddCommand(newDecisionsCommand(opts))
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "skippy %s\n", Version)
			return err
		},
	}
}

// env is what every command needs once flags are parsed.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv(flags *pflag.FlagSet, opts *rootOptions) (*env, error) {
	cfg, err := config.LoadConfig(opts.configPath, flags)
	if err != nil {
		return nil, configError(err)
	}
	dir, err := canonicalProjectDir(cfg.ProjectDir)
	if err != nil {
		return nil, err
	}
	cfg.ProjectDir = dir

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, configError(err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

func (e *env) openState() (store.State, error) {
	st, err := store.Open(store.Options{
		Dir:         e.cfg.StateDir(),
		Backend:     e.cfg.State.Backend,
		Compression: e.cfg.State.Compression,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, &InvocationError{ExitCode: ExitInternalError, Message: fmt.Sprintf("open state: %v", err), Err: err}
	}
	return st, nil
}

func (e *env) close() {
	_ = e.logger.Sync()
}
