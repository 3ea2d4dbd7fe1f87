package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"skippy/internal/core"
	"skippy/internal/recovery"
	"skippy/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// project is a fake build: a class directory plus a file-backed state dir.
type project struct {
	t        *testing.T
	root     string
	classDir string
	state    *store.FileState
	logs     *observer.ObservedLogs
	coord    *Coordinator
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()
	obsCore, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(obsCore)
	st := store.NewFileState(filepath.Join(root, "skippy"), nil, logger)
	return &project{
		t:        t,
		root:     root,
		classDir: filepath.Join(root, "build", "classes"),
		state:    st,
		logs:     logs,
		coord:    NewCoordinator(st, root, logger),
	}
}

func (p *project) writeClass(name core.ClassName, content string) {
	p.t.Helper()
	rel := strings.ReplaceAll(string(name), ".", "/") + core.ClassFileExtension
	path := filepath.Join(p.classDir, filepath.FromSlash(rel))
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0o644))
}

func (p *project) deleteClass(name core.ClassName) {
	p.t.Helper()
	rel := strings.ReplaceAll(string(name), ".", "/") + core.ClassFileExtension
	require.NoError(p.t, os.Remove(filepath.Join(p.classDir, filepath.FromSlash(rel))))
}

func (p *project) run(exec TestExecutor, tests ...core.ClassName) (*Result, error) {
	return p.coord.Run(context.Background(), Inputs{
		ClassDirs:   []string{"build/classes"},
		Tests:       tests,
		TestPattern: "*Test",
	}, exec)
}

func (p *project) decisionsLog() string {
	p.t.Helper()
	data, err := os.ReadFile(filepath.Join(p.state.Dir(), store.DecisionLogFile))
	require.NoError(p.t, err)
	return string(data)
}

func (p *project) stateFiles() []string {
	p.t.Helper()
	entries, err := os.ReadDir(p.state.Dir())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(p.t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// fixedCoverage is an executor reporting a fixed dependency set per test.
type fixedCoverage struct {
	deps  map[core.ClassName][]core.ClassName
	calls [][]core.ClassName
}

func (f *fixedCoverage) Execute(_ context.Context, tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
	f.calls = append(f.calls, append([]core.ClassName(nil), tests...))
	out := make(map[core.ClassName]core.CoverageSet)
	for _, t := range tests {
		if deps, ok := f.deps[t]; ok {
			out[t] = core.NewCoverageSet(deps...)
		}
	}
	return out, nil
}

func TestRun_ScenarioA_FreshProject(t *testing.T) {
	p := newProject(t)
	p.writeClass("com.example.StringUtils", "utils-v1")
	p.writeClass("com.example.StringUtilsTest", "test-v1")

	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{
		"com.example.StringUtilsTest": {"com.example.StringUtils"},
	}}
	res, err := p.run(exec, "com.example.StringUtilsTest")
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)

	assert.Equal(t, "com.example.StringUtilsTest:EXECUTE:NO_COVERAGE_DATA_FOR_TEST\n", p.decisionsLog())
	assert.Equal(t, [][]core.ClassName{{"com.example.StringUtilsTest"}}, exec.calls)
	assert.Equal(t, []core.ClassName{"com.example.StringUtilsTest"}, res.Executed)
	assert.NotEmpty(t, res.PassID)

	set, ok, err := p.state.LoadCoverage("com.example.StringUtilsTest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []core.ClassName{"com.example.StringUtils", "com.example.StringUtilsTest"}, set.Sorted())

	reg, err := p.state.LoadRegistry()
	require.NoError(t, err)
	assert.Equal(t, core.Fingerprints{
		"com.example.StringUtils":     core.HashBytes([]byte("utils-v1")),
		"com.example.StringUtilsTest": core.HashBytes([]byte("test-v1")),
	}, reg)

	pending, err := p.state.CommitPending()
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRun_ScenarioB_FailureClearsState(t *testing.T) {
	p := newProject(t)
	p.writeClass("com.example.LeftPadder", "v1")
	p.writeClass("com.example.LeftPadderTest", "t1")

	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{
		"com.example.LeftPadderTest": {"com.example.LeftPadder"},
	}}
	_, err := p.run(exec)
	require.NoError(t, err)
	require.Contains(t, p.stateFiles(), store.RegistryFile)

	p.writeClass("com.example.LeftPadder", "v2")
	failing := ExecutorFunc(func(context.Context, []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
		return nil, &recovery.UpstreamFailureError{Code: "DependencyResolution", Message: "could not resolve org.example:lib:1.0"}
	})
	res, err := p.run(failing)
	require.Error(t, err)
	assert.Equal(t, PhaseFailed, res.Phase)
	require.NotNil(t, res.Failure)
	assert.Equal(t, recovery.FailureClassUpstream, res.Failure.Class)

	for _, name := range p.stateFiles() {
		assert.NotEqual(t, store.RegistryFile, name)
		assert.False(t, strings.HasSuffix(name, store.CoverageExt), "unexpected %s", name)
	}
	assert.Equal(t, 1, p.logs.FilterMessage(recovery.ClearMessage).Len())
}

func TestRun_ScenarioC_OnlyDependentTestExecutes(t *testing.T) {
	p := newProject(t)
	p.writeClass("com.example.LeftPadder", "left-v1")
	p.writeClass("com.example.RightPadder", "right-v1")
	p.writeClass("com.example.LeftPadderTest", "lt")
	p.writeClass("com.example.RightPadderTest", "rt")

	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{
		"com.example.LeftPadderTest":  {"com.example.LeftPadder"},
		"com.example.RightPadderTest": {"com.example.RightPadder"},
	}}
	_, err := p.run(exec)
	require.NoError(t, err)

	p.writeClass("com.example.LeftPadder", "left-v2")
	res, err := p.run(exec)
	require.NoError(t, err)

	want := []core.Decision{
		{Test: "com.example.LeftPadderTest", Action: core.ActionExecute, Reason: core.ReasonClassChanged},
		{Test: "com.example.RightPadderTest", Action: core.ActionSkip, Reason: core.ReasonNoChanges},
	}
	if diff := cmp.Diff(want, res.Decisions); diff != "" {
		t.Fatalf("decisions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []core.ClassName{"com.example.LeftPadderTest"}, exec.calls[1])
	assert.Equal(t,
		"com.example.LeftPadderTest:EXECUTE:CLASS_CHANGED\ncom.example.RightPadderTest:SKIP:NO_CHANGES\n",
		p.decisionsLog())
}

func TestRun_IdempotentWithoutChanges(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "test")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib"}}}

	_, err := p.run(exec)
	require.NoError(t, err)

	first, err := p.run(exec)
	require.NoError(t, err)
	firstLog := p.decisionsLog()

	second, err := p.run(exec)
	require.NoError(t, err)

	assert.Equal(t, first.Decisions, second.Decisions)
	assert.Equal(t, firstLog, p.decisionsLog())
	assert.Equal(t, "a.LibTest:SKIP:NO_CHANGES\n", firstLog)
	assert.Len(t, exec.calls, 1, "only the first pass executes tests")
}

func TestRun_KotlinLambdaClassesStaySkippable(t *testing.T) {
	p := newProject(t)
	lambda := core.ClassName("a.LibTest$adds two numbers$1")
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "test")
	p.writeClass(lambda, "lambda")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib", lambda}}}

	_, err := p.run(exec)
	require.NoError(t, err)

	reg, err := p.state.LoadRegistry()
	require.NoError(t, err)
	assert.Len(t, reg, 3)
	assert.Contains(t, reg, lambda)

	_, err = p.run(exec)
	require.NoError(t, err)
	assert.Equal(t, "a.LibTest:SKIP:NO_CHANGES\n", p.decisionsLog())
	assert.Len(t, exec.calls, 1)
}

func TestRun_DecideOnlyLeavesStateUntouched(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "test")

	res, err := p.coord.Run(context.Background(), Inputs{
		ClassDirs:   []string{"build/classes"},
		TestPattern: "*Test",
		DecideOnly:  true,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.Empty(t, res.Executed)
	assert.Equal(t, "a.LibTest:EXECUTE:NO_COVERAGE_DATA_FOR_TEST\n", p.decisionsLog())
	assert.Equal(t, []string{store.DecisionLogFile}, p.stateFiles())
}

func TestRun_DeletedClassForcesExecution(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.Helper", "helper")
	p.writeClass("a.LibTest", "test")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib", "a.Helper"}}}

	_, err := p.run(exec)
	require.NoError(t, err)

	p.deleteClass("a.Helper")
	exec.deps["a.LibTest"] = []core.ClassName{"a.Lib"}
	res, err := p.run(exec)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonNoCoverageDataForClass, res.Decisions[0].Reason)

	set, ok, err := p.state.LoadCoverage("a.LibTest")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, set.Has("a.Helper"), "fresh coverage replaces the old record")

	res, err = p.run(exec)
	require.NoError(t, err)
	assert.Equal(t, core.ActionSkip, res.Decisions[0].Action)
}

func TestRun_SkippedTestKeepsCoverage(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.One", "1")
	p.writeClass("a.Two", "2")
	p.writeClass("a.OneTest", "t1")
	p.writeClass("a.TwoTest", "t2")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{
		"a.OneTest": {"a.One"},
		"a.TwoTest": {"a.Two"},
	}}
	_, err := p.run(exec)
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(p.state.Dir(), "a.TwoTest.cov"))
	require.NoError(t, err)

	p.writeClass("a.One", "1b")
	_, err = p.run(exec)
	require.NoError(t, err)

	after, err := os.ReadFile(filepath.Join(p.state.Dir(), "a.TwoTest.cov"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_ExecutedWithoutCoverageDropsRecord(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "test")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib"}}}
	_, err := p.run(exec)
	require.NoError(t, err)

	p.writeClass("a.Lib", "lib2")
	_, err = p.run(&fixedCoverage{})
	require.NoError(t, err)

	_, ok, err := p.state.LoadCoverage("a.LibTest")
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := p.run(exec)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonNoCoverageDataForTest, res.Decisions[0].Reason)
}

func TestRun_DiscoversTestsByPattern(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "t")
	p.writeClass("a.LibTest$Nested", "n")
	p.writeClass("b.OtherTest", "o")

	res, err := p.run(&fixedCoverage{})
	require.NoError(t, err)

	var tests []core.ClassName
	for _, d := range res.Decisions {
		tests = append(tests, d.Test)
	}
	assert.Equal(t, []core.ClassName{"a.LibTest", "b.OtherTest"}, tests)
}

func TestRun_NoTestsStillCommitsRegistry(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")

	res, err := p.run(nil)
	require.NoError(t, err)
	assert.Empty(t, res.Decisions)
	assert.Equal(t, "", p.decisionsLog())

	reg, err := p.state.LoadRegistry()
	require.NoError(t, err)
	assert.Len(t, reg, 1)
}

func TestRun_InterruptedCommitStartsFromScratch(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "test")
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib"}}}
	_, err := p.run(exec)
	require.NoError(t, err)

	require.NoError(t, p.state.BeginCommit())

	res, err := p.run(exec)
	require.NoError(t, err)
	assert.Equal(t, core.ReasonNoCoverageDataForTest, res.Decisions[0].Reason)
	assert.Equal(t, 1, p.logs.FilterMessage(recovery.ClearMessage).Len())
}

func TestRun_FailureDuringCommitClearsEverything(t *testing.T) {
	root := t.TempDir()
	classDir := filepath.Join(root, "classes", "a")
	require.NoError(t, os.MkdirAll(classDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(classDir, "Lib.class"), []byte("lib"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(classDir, "LibTest.class"), []byte("t"), 0o644))

	mem := store.NewMemoryState(filepath.Join(root, "skippy"))
	require.NoError(t, mem.CommitRegistry(core.Fingerprints{"a.Old": core.HashBytes([]byte("old"))}))
	mem.FailOn = func(op string, _ core.ClassName) error {
		if op == "commit-registry" {
			return errors.New("disk full")
		}
		return nil
	}

	obsCore, logs := observer.New(zapcore.WarnLevel)
	c := NewCoordinator(mem, root, zap.New(obsCore))
	exec := &fixedCoverage{deps: map[core.ClassName][]core.ClassName{"a.LibTest": {"a.Lib"}}}

	res, err := c.Run(context.Background(), Inputs{ClassDirs: []string{"classes"}, TestPattern: "*Test"}, exec)
	require.Error(t, err)

	var iof *recovery.IOFailureError
	require.ErrorAs(t, err, &iof)
	assert.Equal(t, "commit-registry", iof.Op)
	assert.Equal(t, PhaseFailed, res.Phase)
	assert.Equal(t, recovery.FailureClassIO, res.Failure.Class)

	reg, err := mem.LoadRegistry()
	require.NoError(t, err)
	assert.Empty(t, reg)
	all, err := mem.LoadAllCoverage()
	require.NoError(t, err)
	assert.Empty(t, all)
	pending, err := mem.CommitPending()
	require.NoError(t, err)
	assert.False(t, pending)
	assert.Equal(t, 1, logs.FilterMessage(recovery.ClearMessage).Len())

	_, err = os.Stat(filepath.Join(root, "skippy", store.DecisionLogFile))
	assert.True(t, os.IsNotExist(err), "decision log is cleared with the rest of the state")
}

func TestRun_UnreadableClassIsIOFailure(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	p := newProject(t)
	p.writeClass("a.Lib", "lib")
	p.writeClass("a.LibTest", "t")
	path := filepath.Join(p.classDir, "a", "Lib.class")
	require.NoError(t, os.Chmod(path, 0o000))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	res, err := p.run(&fixedCoverage{})
	var iof *recovery.IOFailureError
	require.ErrorAs(t, err, &iof)
	assert.Equal(t, "hash", iof.Op)
	assert.Equal(t, PhaseFailed, res.Phase)
}

func TestRun_CancelledContext(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.Lib", "lib")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.coord.Run(ctx, Inputs{ClassDirs: []string{"build/classes"}}, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "Cancelled", res.Failure.Code)
}

func TestRun_ExecutorErrorIsWrapped(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.LibTest", "t")

	res, err := p.run(ExecutorFunc(func(context.Context, []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
		return nil, errors.New("gradle daemon crashed")
	}))
	var ef *recovery.ExecutionFailureError
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, "ExecutorFailed", ef.Code)
	assert.Equal(t, recovery.FailureClassExecution, res.Failure.Class)
}

func TestRun_MissingExecutor(t *testing.T) {
	p := newProject(t)
	p.writeClass("a.LibTest", "t")

	_, err := p.run(nil)
	var sf *recovery.SystemFailureError
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, "NoExecutor", sf.Code)
}

func TestRun_EmitsPhaseSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newProject(t)
	p.coord.Tracer = tp.Tracer("test")
	p.writeClass("a.LibTest", "t")

	_, err := p.run(&fixedCoverage{})
	require.NoError(t, err)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{
		"skippy.LOADING", "skippy.HASHING", "skippy.DECIDING", "skippy.LOGGING",
		"skippy.EXECUTING", "skippy.COMMITTING", "skippy.analyze",
	}, names)
}
