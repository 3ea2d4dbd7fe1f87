package store

import (
	"sync"

	"skippy/internal/core"
)

// MemoryState implements State using in-memory storage.
// Useful for testing and for dry runs that must not touch disk.
type MemoryState struct {
	mu       sync.Mutex
	dir      string
	registry core.Fingerprints
	coverage map[core.ClassName]core.CoverageSet
	pending  bool

	// FailOn, when set, is consulted before every mutation and its error is
	// returned instead of applying the change. Tests use it to inject I/O
	// failures at a specific step.
	FailOn func(op string, test core.ClassName) error
}

var _ State = (*MemoryState)(nil)

// NewMemoryState creates an empty in-memory state. dir is only reported by
// Dir (the decision log is still written there).
func NewMemoryState(dir string) *MemoryState {
	return &MemoryState{
		dir:      dir,
		registry: core.Fingerprints{},
		coverage: make(map[core.ClassName]core.CoverageSet),
	}
}

// Dir implements State.Dir.
func (s *MemoryState) Dir() string { return s.dir }

func (s *MemoryState) fail(op string, test core.ClassName) error {
	if s.FailOn == nil {
		return nil
	}
	return s.FailOn(op, test)
}

// LoadRegistry implements RegistryStore.LoadRegistry.
func (s *MemoryState) LoadRegistry() (core.Fingerprints, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Clone(), nil
}

// CommitRegistry implements RegistryStore.CommitRegistry.
func (s *MemoryState) CommitRegistry(fp core.Fingerprints) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("commit-registry", ""); err != nil {
		return err
	}
	s.registry = fp.Clone()
	return nil
}

// LoadCoverage implements CoverageStore.LoadCoverage.
func (s *MemoryState) LoadCoverage(test core.ClassName) (core.CoverageSet, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.coverage[test]
	if !ok {
		return nil, false, nil
	}
	return set.With(test), true, nil
}

// LoadAllCoverage implements CoverageStore.LoadAllCoverage.
func (s *MemoryState) LoadAllCoverage() (map[core.ClassName]core.CoverageSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[core.ClassName]core.CoverageSet, len(s.coverage))
	for t, set := range s.coverage {
		out[t] = set.With(t)
	}
	return out, nil
}

// RecordCoverage implements CoverageStore.RecordCoverage.
func (s *MemoryState) RecordCoverage(test core.ClassName, set core.CoverageSet) error {
	if err := validateTest(test); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("record-coverage", test); err != nil {
		return err
	}
	// Store a copy to prevent mutation through the caller's set.
	s.coverage[test] = set.With(test)
	return nil
}

// RemoveCoverage implements CoverageStore.RemoveCoverage.
func (s *MemoryState) RemoveCoverage(test core.ClassName) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("remove-coverage", test); err != nil {
		return err
	}
	delete(s.coverage, test)
	return nil
}

// BeginCommit implements State.BeginCommit.
func (s *MemoryState) BeginCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("begin-commit", ""); err != nil {
		return err
	}
	s.pending = true
	return nil
}

// FinishCommit implements State.FinishCommit.
func (s *MemoryState) FinishCommit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("finish-commit", ""); err != nil {
		return err
	}
	s.pending = false
	return nil
}

// CommitPending implements State.CommitPending.
func (s *MemoryState) CommitPending() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

// ClearAll implements State.ClearAll.
func (s *MemoryState) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = core.Fingerprints{}
	s.coverage = make(map[core.ClassName]core.CoverageSet)
	s.pending = false
	return clearDir(s.dir)
}

// Close implements State.Close.
func (s *MemoryState) Close() error { return nil }
