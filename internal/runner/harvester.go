package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"skippy/internal/core"
	"skippy/internal/recovery"
	"skippy/internal/store"
)

// CoverageReportFile is the optional single-file coverage report a test
// command may write instead of (or alongside) per-test .cov files.
const CoverageReportFile = "coverage.yaml"

// coverageReport is the schema of coverage.yaml:
//
//	tests:
//	  com.example.LeftPadderTest:
//	    - com.example.LeftPadder
type coverageReport struct {
	Tests map[string][]string `yaml:"tests"`
}

// Harvester collects the coverage the test command produced for executed
// tests.
//
// Two layouts are accepted in Dir, and merged when both are present:
//   - one <Test>.cov file per test, class names one per line;
//   - a single coverage.yaml report.
//
// Only requested tests are collected. Files for other tests are ignored.
type Harvester struct {
	Dir    string
	Logger *zap.Logger
}

// NewHarvester creates a Harvester reading from dir.
func NewHarvester(dir string, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{Dir: dir, Logger: logger}
}

// Harvest returns the coverage found for tests. Tests without usable coverage
// are absent from the result. A missing Dir yields an empty result.
func (h *Harvester) Harvest(tests []core.ClassName) (map[core.ClassName]core.CoverageSet, error) {
	out := make(map[core.ClassName]core.CoverageSet)
	if len(tests) == 0 {
		return out, nil
	}

	wanted := make(map[core.ClassName]struct{}, len(tests))
	for _, t := range tests {
		wanted[t] = struct{}{}
	}

	report, err := h.readReport()
	if err != nil {
		return nil, err
	}
	for name, classes := range report.Tests {
		test := core.ClassName(name)
		if _, ok := wanted[test]; !ok {
			continue
		}
		set := core.NewCoverageSet()
		for _, c := range classes {
			set.Add(core.ClassName(strings.TrimSpace(c)))
		}
		merge(out, test, set)
	}

	for test := range wanted {
		set, ok, err := h.readCovFile(test)
		if err != nil {
			return nil, err
		}
		if ok {
			merge(out, test, set)
		}
	}

	return out, nil
}

func (h *Harvester) readReport() (coverageReport, error) {
	var report coverageReport
	path := filepath.Join(h.Dir, CoverageReportFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return report, &recovery.IOFailureError{Op: "read-coverage", Path: path, Cause: err}
	}
	if err := yaml.Unmarshal(data, &report); err != nil {
		return report, &recovery.ExecutionFailureError{
			Code:    "MalformedCoverageReport",
			Message: fmt.Sprintf("%s: %v", path, err),
			Cause:   err,
		}
	}
	return report, nil
}

func (h *Harvester) readCovFile(test core.ClassName) (core.CoverageSet, bool, error) {
	path := filepath.Join(h.Dir, string(test)+store.CoverageExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, &recovery.IOFailureError{Op: "read-coverage", Path: path, Cause: err}
	}
	set, err := store.DecodeCoverage(data)
	if err != nil {
		h.Logger.Warn("ignoring unreadable coverage output",
			zap.String("test", string(test)), zap.String("path", path), zap.Error(err))
		return nil, false, nil
	}
	return set, true, nil
}

// Clean removes coverage outputs left by a previous run so that only fresh
// output is harvested.
func (h *Harvester) Clean() error {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &recovery.IOFailureError{Op: "clean-coverage", Path: h.Dir, Cause: err}
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (name != CoverageReportFile && !strings.HasSuffix(name, store.CoverageExt)) {
			continue
		}
		path := filepath.Join(h.Dir, name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return &recovery.IOFailureError{Op: "clean-coverage", Path: path, Cause: err}
		}
	}
	return nil
}

func merge(out map[core.ClassName]core.CoverageSet, test core.ClassName, set core.CoverageSet) {
	existing, ok := out[test]
	if !ok {
		out[test] = set
		return
	}
	for c := range set {
		existing.Add(c)
	}
}
