// Package runner runs the tests selected for execution through an external
// command and collects the coverage they produce.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"skippy/internal/core"
	"skippy/internal/recovery"
)

// Environment variables handed to the test command.
const (
	EnvTests       = "SKIPPY_TESTS"
	EnvTestsFile   = "SKIPPY_TESTS_FILE"
	EnvCoverageDir = "SKIPPY_COVERAGE_DIR"
)

// CommandExecutor runs a shell command for the tests selected for execution
// and harvests their coverage afterwards.
//
// The command sees the host environment plus:
//   - SKIPPY_TESTS: the selected test classes, comma separated;
//   - SKIPPY_TESTS_FILE: a file listing them one per line;
//   - SKIPPY_COVERAGE_DIR: where coverage output is expected.
type CommandExecutor struct {
	// Command is run with "sh -c".
	Command string

	// WorkingDir is the directory the command runs in.
	WorkingDir string

	// Timeout bounds the command. Zero means no limit beyond ctx.
	Timeout time.Duration

	// Harvester reads the coverage written by the command.
	Harvester *Harvester

	// Stdout and Stderr receive the command's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	Logger *zap.Logger
}

// Execute runs the command for tests and returns the harvested coverage.
// With no tests the command is not started.
func (e *CommandExecutor) Execute(ctx context.Context, tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
	if len(tests) == 0 {
		return map[core.ClassName]core.CoverageSet{}, nil
	}
	if strings.TrimSpace(e.Command) == "" {
		return nil, &recovery.ExecutionFailureError{Code: "NoCommand", Message: "executor.command is not configured"}
	}
	if e.Harvester == nil {
		return nil, &recovery.SystemFailureError{Code: "NoHarvester", Message: "coverage harvester is required"}
	}
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := e.Harvester.Clean(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(e.Harvester.Dir, 0o755); err != nil {
		return nil, &recovery.IOFailureError{Op: "create-coverage-dir", Path: e.Harvester.Dir, Cause: err}
	}

	listFile, err := writeTestList(tests)
	if err != nil {
		return nil, err
	}
	defer os.Remove(listFile)

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	names := make([]string, len(tests))
	for i, t := range tests {
		names[i] = string(t)
	}
	env := append(os.Environ(),
		EnvTests+"="+strings.Join(names, ","),
		EnvTestsFile+"="+listFile,
		EnvCoverageDir+"="+e.Harvester.Dir,
	)

	logger.Info("executing tests", zap.Int("tests", len(tests)), zap.String("command", e.Command))
	start := time.Now()
	exitCode, err := run(ctx, e.Command, e.WorkingDir, env, orDiscard(e.Stdout), orDiscard(e.Stderr))
	if err != nil {
		return nil, err
	}
	logger.Info("test command finished", zap.Int("exit_code", exitCode), zap.Duration("elapsed", time.Since(start)))
	if exitCode != 0 {
		return nil, &recovery.ExecutionFailureError{
			Code:    "ExitCode",
			Message: fmt.Sprintf("test command exited with status %d", exitCode),
		}
	}

	return e.Harvester.Harvest(tests)
}

// run starts command in its own process group and kills the whole group when
// ctx is done.
func run(ctx context.Context, command, dir string, env []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, &recovery.ExecutionFailureError{Code: "StartFailed", Message: err.Error(), Cause: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return 0, fmt.Errorf("test execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 0, &recovery.ExecutionFailureError{Code: "WaitFailed", Message: err.Error(), Cause: err}
	}
	return 0, nil
}

func writeTestList(tests []core.ClassName) (string, error) {
	f, err := os.CreateTemp("", "skippy-tests-*.txt")
	if err != nil {
		return "", &recovery.IOFailureError{Op: "write-test-list", Cause: err}
	}
	defer f.Close()
	for _, t := range tests {
		if _, err := fmt.Fprintln(f, t); err != nil {
			_ = os.Remove(f.Name())
			return "", &recovery.IOFailureError{Op: "write-test-list", Path: f.Name(), Cause: err}
		}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", &recovery.IOFailureError{Op: "write-test-list", Path: f.Name(), Cause: err}
	}
	return f.Name(), nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
