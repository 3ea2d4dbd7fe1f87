// Package store persists the analysis state between builds: the hash
// registry (classes.md5) and one coverage record per test (<Test>.cov).
//
// Every backend honours the same consistency protocol:
//   - each persisted unit is replaced atomically (write temp, sync, rename);
//   - content that cannot be decoded is reported as absent, never as an error;
//   - OS-level read failures other than "not found" are returned to the caller;
//   - ClearAll wipes every file skippy owns, which is always a safe state to
//     resume from; anything else in the directory is left alone.
package store

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"skippy/internal/core"
)

// Persisted file names inside the state directory.
const (
	RegistryFile     = "classes.md5"
	CoverageExt      = ".cov"
	DecisionLogFile  = "decisions.log"
	CommitMarkerFile = "commit.lock"
	DatabaseFile     = "skippy.db"
)

// Backend names accepted by Open.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
)

var (
	ErrUnknownBackend = errors.New("unknown state backend")
	ErrInvalidTest    = errors.New("invalid test class name")
)

// RegistryStore persists the class name -> hash mapping of the last
// successful analysis.
type RegistryStore interface {
	// LoadRegistry returns the persisted registry. A missing or corrupt
	// registry yields an empty mapping and a nil error.
	LoadRegistry() (core.Fingerprints, error)

	// CommitRegistry replaces the persisted registry wholesale.
	CommitRegistry(fp core.Fingerprints) error
}

// CoverageStore persists one coverage record per test.
type CoverageStore interface {
	// LoadCoverage returns the record for test. ok is false when no usable
	// record exists (never recorded, cleared, or corrupt).
	LoadCoverage(test core.ClassName) (set core.CoverageSet, ok bool, err error)

	// LoadAllCoverage returns every usable record keyed by test.
	LoadAllCoverage() (map[core.ClassName]core.CoverageSet, error)

	// RecordCoverage persists or replaces the record for test.
	RecordCoverage(test core.ClassName, set core.CoverageSet) error

	// RemoveCoverage deletes the record for test, if any.
	RemoveCoverage(test core.ClassName) error
}

// State is the full persisted analysis state of one project.
type State interface {
	RegistryStore
	CoverageStore

	// Dir is the state directory. The decision log lives here as well.
	Dir() string

	// BeginCommit marks the start of a multi-unit commit. The marker stays
	// visible until FinishCommit, so an interrupted commit is detectable.
	BeginCommit() error

	// FinishCommit removes the commit marker.
	FinishCommit() error

	// CommitPending reports whether a previous commit was interrupted.
	CommitPending() (bool, error)

	// ClearAll removes every persisted unit, including the decision log.
	ClearAll() error

	// Close releases backend resources.
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	// Dir is the state directory (e.g. <project>/skippy).
	Dir string

	// Backend is BackendFiles (default) or BackendSQLite.
	Backend string

	// Compression applies to coverage records of the files backend:
	// CompressionNone (default) or CompressionLZ4.
	Compression string

	Logger *zap.Logger
}

// Open returns the backend described by opts.
func Open(opts Options) (State, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("state dir is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	switch opts.Backend {
	case "", BackendFiles:
		codec, err := CodecFor(opts.Compression)
		if err != nil {
			return nil, err
		}
		return NewFileState(opts.Dir, codec, opts.Logger), nil
	case BackendSQLite:
		return OpenSQLiteState(opts.Dir, opts.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// validateTest rejects names that cannot be used as a record key. The name
// becomes a file name in the files backend, so path separators are refused.
func validateTest(test core.ClassName) error {
	s := string(test)
	if !validClassName(s) || strings.TrimSpace(s) == "" || s == "." || s == ".." || strings.ContainsAny(s, "/\\") {
		return fmt.Errorf("%w: %q", ErrInvalidTest, s)
	}
	return nil
}

// validClassName reports whether a decoded class name is well formed.
// JVM binary names allow spaces and most punctuation (Kotlin emits
// "LibTest$adds two numbers$1"), so only line breaks and NUL are refused.
func validClassName(s string) bool {
	return s != "" && !strings.ContainsAny(s, "\r\n\x00")
}
