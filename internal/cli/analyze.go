package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"skippy/internal/analysis"
	"skippy/internal/config"
	"skippy/internal/core"
	"skippy/internal/decision"
	"skippy/internal/observability"
	"skippy/internal/report"
	"skippy/internal/runner"
)

const shutdownTimeout = 5 * time.Second

var errNoCommand = errors.New("executor.command is required unless --dry-run is given")

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one analysis pass",
		Long: `Fingerprint the compiled classes, decide which tests must execute, run them
through executor.command and commit the new fingerprints and coverage.

Any failure wipes the state directory so the next pass executes everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, opts, dryRun)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "write decisions.log only; run nothing and keep the stored state")
	f.String("compression", config.DefaultStateCompression, "coverage record compression: none|lz4")
	f.StringSlice("classes-dir", config.DefaultClassDirs, "compiled class directories, first match wins")
	f.String("manifest", "", "YAML list of test classes; discovered with --pattern when empty")
	f.String("pattern", config.DefaultTestsPattern, "glob on the simple class name selecting test classes")
	f.String("command", "", "shell command running the selected tests")
	f.String("coverage-dir", config.DefaultExecutorCoverageDir, "directory the test command writes coverage to")
	f.Duration("timeout", config.DefaultExecutorTimeout, "test command timeout, 0 for none")
	f.Int("workers", config.DefaultHashingWorkers, "fingerprint workers, 0 for GOMAXPROCS")
	f.String("metrics-file", "", "Prometheus textfile written after the pass")

	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *rootOptions, dryRun bool) error {
	e, err := loadEnv(cmd.Flags(), opts)
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.cfg

	if cfg.Executor.Command == "" && !dryRun {
		return configError(errNoCommand)
	}

	tests, err := loadTests(cfg)
	if err != nil {
		return err
	}

	st, err := e.openState()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			e.logger.Warn("close state", zap.Error(cerr))
		}
	}()

	provider, err := observability.NewProvider()
	if err != nil {
		return &InvocationError{ExitCode: ExitInternalError, Message: err.Error(), Err: err}
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = provider.Shutdown(ctx)
	}()

	coord := analysis.NewCoordinator(st, cfg.ProjectDir, e.logger)
	coord.Hasher = core.NewFingerprintHasher(cfg.Hashing.Workers)
	coord.Metrics = provider.Metrics

	var executor analysis.TestExecutor
	if !dryRun {
		executor = &runner.CommandExecutor{
			Command:    cfg.Executor.Command,
			WorkingDir: cfg.ProjectDir,
			Timeout:    cfg.Executor.Timeout,
			Harvester:  runner.NewHarvester(cfg.Path(cfg.Executor.CoverageDir), e.logger),
			Stdout:     cmd.OutOrStdout(),
			Stderr:     cmd.ErrOrStderr(),
			Logger:     e.logger,
		}
	}

	res, runErr := coord.Run(cmd.Context(), analysis.Inputs{
		ClassDirs:   cfg.ClassDirs(),
		Tests:       tests,
		TestPattern: cfg.Tests.Pattern,
		DecideOnly:  dryRun,
	}, executor)

	if werr := provider.WriteTextfile(cfg.Path(cfg.Metrics.Textfile)); werr != nil {
		e.logger.Warn("metrics textfile not written", zap.Error(werr))
	}

	if res != nil && len(res.Decisions) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), report.Summary(decision.Summarize(res.Decisions)))
	}
	if runErr != nil {
		return analysisError(runErr)
	}
	return nil
}

func loadTests(cfg *config.Config) ([]core.ClassName, error) {
	if cfg.Tests.Manifest == "" {
		return nil, nil
	}
	tests, err := runner.LoadManifest(cfg.Path(cfg.Tests.Manifest))
	if err != nil {
		return nil, configError(fmt.Errorf("tests.manifest: %w", err))
	}
	return tests, nil
}
