package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"skippy/internal/core"
	"skippy/internal/decision"
	"skippy/internal/observability"
	"skippy/internal/recovery"
	"skippy/internal/store"
)

const tracerName = "skippy/analysis"

// TestExecutor runs the tests selected for execution and reports the classes
// each executed test touched. Tests missing from the returned map produced no
// coverage.
type TestExecutor interface {
	Execute(ctx context.Context, tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error)
}

// ExecutorFunc adapts a function to TestExecutor.
type ExecutorFunc func(ctx context.Context, tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error)

// Execute implements TestExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
	return f(ctx, tests)
}

// Inputs is what the build supplies before a pass.
type Inputs struct {
	// ClassDirs are the compiled class directories to fingerprint.
	ClassDirs []string

	// Tests are the known test classes in discovery order. When empty, tests
	// are discovered from the class files with TestPattern.
	Tests       []core.ClassName
	TestPattern string

	// DecideOnly ends the pass once decisions.log is written. Nothing is
	// executed and the persisted registry and coverage are left untouched.
	DecideOnly bool
}

// Result describes a finished pass.
type Result struct {
	PassID        string
	Phase         Phase
	Decisions     []core.Decision
	Executed      []core.ClassName
	ClassesHashed int
	Duration      time.Duration

	// Failure is set when the pass ended in PhaseFailed.
	Failure *recovery.Failure
}

// Coordinator drives analysis passes over one state directory.
type Coordinator struct {
	State    store.State
	Resolver *core.ClassResolver
	Hasher   *core.FingerprintHasher
	Recovery *recovery.Recovery
	Logger   *zap.Logger
	Metrics  *observability.PassMetrics
	Tracer   trace.Tracer
}

// NewCoordinator returns a Coordinator with default collaborators for st.
// Relative class directories are resolved against projectDir.
func NewCoordinator(st store.State, projectDir string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		State:    st,
		Resolver: core.NewClassResolver(projectDir),
		Hasher:   core.NewFingerprintHasher(0),
		Recovery: recovery.New(st, logger),
		Logger:   logger,
		Tracer:   otel.Tracer(tracerName),
	}
}

// Run performs one pass.
//
// On success the returned Result is in PhaseDone and the error is nil. On any
// failure all persisted state is cleared, the Result is in PhaseFailed and
// the error that aborted the pass is returned.
func (c *Coordinator) Run(ctx context.Context, in Inputs, executor TestExecutor) (*Result, error) {
	if c.State == nil {
		return nil, &recovery.SystemFailureError{Code: "NoState", Message: "coordinator has no state store"}
	}
	c.defaults()

	start := time.Now()
	st := newAnalysisState(uuid.NewString())
	logger := c.Logger.With(zap.String("pass_id", st.PassID))

	ctx, span := c.Tracer.Start(ctx, "skippy.analyze", trace.WithAttributes(attribute.String("pass_id", st.PassID)))
	defer span.End()

	logger.Info("analysis started", zap.Strings("class_dirs", in.ClassDirs))

	steps := []struct {
		to Phase
		fn func(context.Context, *AnalysisState) error
	}{
		{PhaseLoading, c.load},
		{PhaseHashing, func(ctx context.Context, st *AnalysisState) error { return c.hash(ctx, st, in) }},
		{PhaseDeciding, c.decide},
		{PhaseLogging, c.log},
		{PhaseExecuting, func(ctx context.Context, st *AnalysisState) error { return c.execute(ctx, st, executor) }},
		{PhaseCommitting, c.commit},
	}

	if in.DecideOnly {
		steps = steps[:4]
	}

	for _, step := range steps {
		if err := c.step(ctx, st, step.to, logger, step.fn); err != nil {
			return c.fail(ctx, span, st, logger, start, err)
		}
	}
	if err := Transition(&st.Phase, st.Phase, PhaseDone); err != nil {
		return c.fail(ctx, span, st, logger, start, &recovery.SystemFailureError{Code: "InvalidTransition", Message: err.Error(), Cause: err})
	}

	res := c.result(st, start)
	summary := decision.Summarize(res.Decisions)
	logger.Info("analysis finished",
		zap.Int("tests", summary.Total),
		zap.Int("execute", summary.Execute),
		zap.Int("skip", summary.Skip),
		zap.Int("classes", res.ClassesHashed),
		zap.Duration("elapsed", res.Duration))
	c.Metrics.RecordPass(ctx, observability.PassStats{
		Outcome:       observability.OutcomeDone,
		Duration:      res.Duration,
		ClassesHashed: res.ClassesHashed,
		TestsExecuted: len(res.Executed),
		Decisions:     res.Decisions,
	})
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (c *Coordinator) defaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Resolver == nil {
		c.Resolver = core.NewClassResolver("")
	}
	if c.Hasher == nil {
		c.Hasher = core.NewFingerprintHasher(0)
	}
	if c.Recovery == nil {
		c.Recovery = recovery.New(c.State, c.Logger)
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
}

// step transitions into `to` and runs fn inside a span named after the phase.
func (c *Coordinator) step(ctx context.Context, st *AnalysisState, to Phase, logger *zap.Logger, fn func(context.Context, *AnalysisState) error) error {
	from := st.Phase
	if err := Transition(&st.Phase, from, to); err != nil {
		return &recovery.SystemFailureError{Code: "InvalidTransition", Message: err.Error(), Cause: err}
	}
	logger.Debug("phase", zap.String("phase", string(to)))

	ctx, span := c.Tracer.Start(ctx, "skippy."+string(to))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Coordinator) load(ctx context.Context, st *AnalysisState) error {
	pending, err := c.State.CommitPending()
	if err != nil {
		return &recovery.IOFailureError{Op: "load", Path: c.State.Dir(), Cause: err}
	}
	if pending {
		// The registry and the coverage records of an interrupted commit may
		// disagree, so neither is trusted.
		cause := &recovery.SystemFailureError{Code: "InterruptedCommit", Message: "previous commit did not finish"}
		f, err := c.Recovery.Recover(cause)
		if err != nil {
			return err
		}
		c.Metrics.RecordRecovery(ctx, string(f.Class))
	}

	prior, err := c.State.LoadRegistry()
	if err != nil {
		return &recovery.IOFailureError{Op: "load-registry", Path: c.State.Dir(), Cause: err}
	}
	coverage, err := c.State.LoadAllCoverage()
	if err != nil {
		return &recovery.IOFailureError{Op: "load-coverage", Path: c.State.Dir(), Cause: err}
	}
	st.Prior = prior
	st.Coverage = coverage
	return nil
}

func (c *Coordinator) hash(ctx context.Context, st *AnalysisState, in Inputs) error {
	classes, err := c.Resolver.Resolve(in.ClassDirs)
	if err != nil {
		return &recovery.IOFailureError{Op: "resolve-classes", Cause: err}
	}
	current, err := c.Hasher.Compute(ctx, classes)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &recovery.IOFailureError{Op: "hash", Cause: err}
	}
	st.Classes = classes
	st.Current = current

	if len(in.Tests) > 0 {
		st.Tests = append([]core.ClassName(nil), in.Tests...)
		return nil
	}
	tests, err := core.DiscoverTests(classes, in.TestPattern)
	if err != nil {
		return &recovery.SystemFailureError{Code: "InvalidTestPattern", Message: err.Error(), Cause: err}
	}
	st.Tests = tests
	return nil
}

func (c *Coordinator) decide(_ context.Context, st *AnalysisState) error {
	for _, d := range decision.Decide(st.Tests, st.inputs()) {
		st.Log.Append(d)
	}
	return nil
}

func (c *Coordinator) log(_ context.Context, st *AnalysisState) error {
	if err := st.Log.Finalize(c.State.Dir()); err != nil {
		return &recovery.IOFailureError{Op: "write-decisions", Path: c.State.Dir(), Cause: err}
	}
	return nil
}

func (c *Coordinator) execute(ctx context.Context, st *AnalysisState, executor TestExecutor) error {
	toRun := decision.ToExecute(st.Log.Snapshot())
	st.Executed = make(map[core.ClassName]core.CoverageSet, len(toRun))
	if len(toRun) == 0 {
		return nil
	}
	if executor == nil {
		return &recovery.SystemFailureError{Code: "NoExecutor", Message: "tests selected for execution but no executor configured"}
	}

	coverage, err := executor.Execute(ctx, toRun)
	if err != nil {
		return asExecutionFailure(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, t := range toRun {
		st.Executed[t] = coverage[t]
	}
	return nil
}

func (c *Coordinator) commit(_ context.Context, st *AnalysisState) error {
	if err := c.State.BeginCommit(); err != nil {
		return &recovery.IOFailureError{Op: "begin-commit", Path: c.State.Dir(), Cause: err}
	}

	for _, t := range decision.ToExecute(st.Log.Snapshot()) {
		set := st.Executed[t]
		if set == nil {
			if err := c.State.RemoveCoverage(t); err != nil {
				return &recovery.IOFailureError{Op: "remove-coverage", Path: string(t), Cause: err}
			}
			continue
		}
		if err := c.State.RecordCoverage(t, set); err != nil {
			return &recovery.IOFailureError{Op: "record-coverage", Path: string(t), Cause: err}
		}
	}

	if err := c.State.CommitRegistry(st.Current); err != nil {
		return &recovery.IOFailureError{Op: "commit-registry", Path: c.State.Dir(), Cause: err}
	}
	if err := c.State.FinishCommit(); err != nil {
		return &recovery.IOFailureError{Op: "finish-commit", Path: c.State.Dir(), Cause: err}
	}
	return nil
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, st *AnalysisState, logger *zap.Logger, start time.Time, cause error) (*Result, error) {
	failedIn := st.Phase
	if err := Transition(&st.Phase, failedIn, PhaseFailed); err != nil {
		st.Phase = PhaseFailed
	}

	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	logger.Error("analysis failed", zap.String("phase", string(failedIn)), zap.Error(cause))

	f, clearErr := c.Recovery.Recover(cause)
	c.Metrics.RecordRecovery(ctx, string(f.Class))

	res := c.result(st, start)
	res.Failure = &f
	c.Metrics.RecordPass(ctx, observability.PassStats{
		Outcome:       observability.OutcomeFailed,
		Duration:      res.Duration,
		ClassesHashed: res.ClassesHashed,
		Decisions:     res.Decisions,
	})

	if clearErr != nil {
		return res, errors.Join(cause, clearErr)
	}
	return res, cause
}

func (c *Coordinator) result(st *AnalysisState, start time.Time) *Result {
	res := &Result{
		PassID:        st.PassID,
		Phase:         st.Phase,
		Decisions:     st.Log.Snapshot(),
		ClassesHashed: len(st.Current),
		Duration:      time.Since(start),
	}
	for _, t := range decision.ToExecute(res.Decisions) {
		if _, ok := st.Executed[t]; ok {
			res.Executed = append(res.Executed, t)
		}
	}
	return res
}

// asExecutionFailure keeps typed failures and context errors as they are and
// wraps anything else from the executor as an execution failure.
func asExecutionFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	var (
		uf  *recovery.UpstreamFailureError
		ef  *recovery.ExecutionFailureError
		iof *recovery.IOFailureError
		sf  *recovery.SystemFailureError
	)
	if errors.As(err, &uf) || errors.As(err, &ef) || errors.As(err, &iof) || errors.As(err, &sf) {
		return err
	}
	return &recovery.ExecutionFailureError{Code: "ExecutorFailed", Message: err.Error(), Cause: fmt.Errorf("executor: %w", err)}
}
