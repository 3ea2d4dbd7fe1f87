package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"skippy/internal/core"
)

// FileState implements State with one flat file per persisted unit.
//
// Structure:
//
//	{Dir}/
//	  classes.md5          (hash registry)
//	  {TestClassName}.cov  (one coverage record per test)
//	  decisions.log        (written by the decision log)
//	  commit.lock          (present only while a commit is in flight)
type FileState struct {
	dir    string
	codec  CoverageCodec
	logger *zap.Logger
}

var _ State = (*FileState)(nil)

// NewFileState creates a file-backed state rooted at dir.
func NewFileState(dir string, codec CoverageCodec, logger *zap.Logger) *FileState {
	if codec == nil {
		codec = PlainCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileState{dir: dir, codec: codec, logger: logger}
}

// Dir implements State.Dir.
func (s *FileState) Dir() string { return s.dir }

func (s *FileState) registryPath() string { return filepath.Join(s.dir, RegistryFile) }

func (s *FileState) markerPath() string { return filepath.Join(s.dir, CommitMarkerFile) }

func (s *FileState) coveragePath(test core.ClassName) string {
	return filepath.Join(s.dir, string(test)+CoverageExt)
}

// LoadRegistry implements RegistryStore.LoadRegistry.
func (s *FileState) LoadRegistry() (core.Fingerprints, error) {
	data, err := os.ReadFile(s.registryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return core.Fingerprints{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", RegistryFile, err)
	}
	fp, err := DecodeRegistry(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable hash registry", zap.String("path", s.registryPath()), zap.Error(err))
		return core.Fingerprints{}, nil
	}
	return fp, nil
}

// CommitRegistry implements RegistryStore.CommitRegistry.
func (s *FileState) CommitRegistry(fp core.Fingerprints) error {
	if err := WriteFileAtomic(s.registryPath(), EncodeRegistry(fp), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", RegistryFile, err)
	}
	return nil
}

// LoadCoverage implements CoverageStore.LoadCoverage.
func (s *FileState) LoadCoverage(test core.ClassName) (core.CoverageSet, bool, error) {
	if err := validateTest(test); err != nil {
		return nil, false, err
	}
	path := s.coveragePath(test)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read coverage for %s: %w", test, err)
	}
	set, err := DecodeCoverage(data)
	if err != nil {
		s.logger.Warn("ignoring unreadable coverage record", zap.String("test", string(test)), zap.Error(err))
		return nil, false, nil
	}
	return set, true, nil
}

// LoadAllCoverage implements CoverageStore.LoadAllCoverage.
//
// os.ReadDir returns entries sorted by filename; temp files from an
// interrupted write start with '.' and are ignored.
func (s *FileState) LoadAllCoverage() (map[core.ClassName]core.CoverageSet, error) {
	out := make(map[core.ClassName]core.CoverageSet)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("list state dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, CoverageExt) {
			continue
		}
		test := core.ClassName(strings.TrimSuffix(name, CoverageExt))
		if validateTest(test) != nil {
			continue
		}
		set, ok, err := s.LoadCoverage(test)
		if err != nil {
			return nil, err
		}
		if ok {
			out[test] = set
		}
	}
	return out, nil
}

// RecordCoverage implements CoverageStore.RecordCoverage.
func (s *FileState) RecordCoverage(test core.ClassName, set core.CoverageSet) error {
	if err := validateTest(test); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, set.With(test).Sorted()); err != nil {
		return fmt.Errorf("encode coverage for %s: %w", test, err)
	}
	if err := WriteFileAtomic(s.coveragePath(test), buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write coverage for %s: %w", test, err)
	}
	return nil
}

// RemoveCoverage implements CoverageStore.RemoveCoverage.
func (s *FileState) RemoveCoverage(test core.ClassName) error {
	if err := validateTest(test); err != nil {
		return err
	}
	if err := removeDurable(s.coveragePath(test)); err != nil {
		return fmt.Errorf("remove coverage for %s: %w", test, err)
	}
	return nil
}

// BeginCommit implements State.BeginCommit.
func (s *FileState) BeginCommit() error {
	if err := WriteFileAtomic(s.markerPath(), []byte("commit in progress\n"), 0o644); err != nil {
		return fmt.Errorf("write commit marker: %w", err)
	}
	return nil
}

// FinishCommit implements State.FinishCommit.
func (s *FileState) FinishCommit() error {
	if err := removeDurable(s.markerPath()); err != nil {
		return fmt.Errorf("remove commit marker: %w", err)
	}
	return nil
}

// CommitPending implements State.CommitPending.
func (s *FileState) CommitPending() (bool, error) {
	_, err := os.Stat(s.markerPath())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat commit marker: %w", err)
}

// ClearAll implements State.ClearAll.
func (s *FileState) ClearAll() error {
	if err := clearDir(s.dir); err != nil {
		return fmt.Errorf("clear state dir: %w", err)
	}
	return nil
}

// Close implements State.Close.
func (s *FileState) Close() error { return nil }
