// Package config loads skippy settings from skippy.yaml, SKIPPY_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultProjectDir          = "."
	DefaultStateDir            = "skippy"
	DefaultStateBackend        = "files"
	DefaultStateCompression    = "none"
	DefaultTestsPattern        = "*Test"
	DefaultExecutorCoverageDir = "build/skippy"
	DefaultExecutorTimeout     = time.Duration(0)
	DefaultHashingWorkers      = 0
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
)

// DefaultClassDirs are the Gradle output directories for main and test classes.
var DefaultClassDirs = []string{"build/classes/java/main", "build/classes/java/test"}

// Config is the top-level configuration. Field tags use mapstructure for
// viper unmarshalling.
type Config struct {
	ProjectDir string         `mapstructure:"project_dir"`
	State      StateConfig    `mapstructure:"state"`
	Classes    ClassesConfig  `mapstructure:"classes"`
	Tests      TestsConfig    `mapstructure:"tests"`
	Executor   ExecutorConfig `mapstructure:"executor"`
	Hashing    HashingConfig  `mapstructure:"hashing"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
}

// StateConfig selects where and how analysis state is persisted.
type StateConfig struct {
	Dir         string `mapstructure:"dir"`
	Backend     string `mapstructure:"backend"`
	Compression string `mapstructure:"compression"`
}

// ClassesConfig lists the compiled class directories, relative to the project.
type ClassesConfig struct {
	Dirs []string `mapstructure:"dirs"`
}

// TestsConfig controls test discovery.
type TestsConfig struct {
	// Manifest is an optional YAML file listing test class names.
	Manifest string `mapstructure:"manifest"`
	// Pattern matches test simple names when no manifest is given.
	Pattern string `mapstructure:"pattern"`
}

// ExecutorConfig configures the command that runs the selected tests.
type ExecutorConfig struct {
	Command     string        `mapstructure:"command"`
	CoverageDir string        `mapstructure:"coverage_dir"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// HashingConfig sizes the fingerprint worker pool. Zero means GOMAXPROCS.
type HashingConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoggingConfig holds zap settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the optional Prometheus textfile path.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// Sentinel validation errors.
var (
	ErrEmptyStateDir       = errors.New("state.dir must not be empty")
	ErrInvalidBackend      = errors.New("state.backend must be files or sqlite")
	ErrInvalidCompression  = errors.New("state.compression must be none or lz4")
	ErrNoClassDirs         = errors.New("classes.dirs must list at least one directory")
	ErrInvalidTestsPattern = errors.New("tests.pattern is not a valid glob")
	ErrInvalidTimeout      = errors.New("executor.timeout must be non-negative")
	ErrInvalidWorkers      = errors.New("hashing.workers must be non-negative")
	ErrInvalidLogFormat    = errors.New("logging.format must be json or console")
	ErrUnsafeStateDir      = errors.New("state.dir must not contain the project, a class dir or the coverage dir")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.State.Dir) == "" {
		return ErrEmptyStateDir
	}
	switch c.State.Backend {
	case "files", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.State.Backend)
	}
	switch c.State.Compression {
	case "none", "lz4":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCompression, c.State.Compression)
	}
	if len(c.Classes.Dirs) == 0 {
		return ErrNoClassDirs
	}
	if _, err := filepath.Match(c.Tests.Pattern, ""); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTestsPattern, c.Tests.Pattern)
	}
	if err := c.checkStateDir(); err != nil {
		return err
	}
	if c.Executor.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.Hashing.Workers < 0 {
		return ErrInvalidWorkers
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Logging.Format)
	}
	return nil
}

// checkStateDir refuses a state dir that equals or encloses a directory the
// build owns, since recovery clears the state dir.
func (c *Config) checkStateDir() error {
	state := c.StateDir()
	guarded := map[string]string{"project_dir": c.ProjectDir}
	for _, d := range c.Classes.Dirs {
		guarded["classes.dirs "+d] = c.Path(d)
	}
	if c.Executor.CoverageDir != "" {
		guarded["executor.coverage_dir"] = c.Path(c.Executor.CoverageDir)
	}
	for key, dir := range guarded {
		if encloses(state, dir) {
			return fmt.Errorf("%w: %q encloses %s %q", ErrUnsafeStateDir, c.State.Dir, key, dir)
		}
	}
	return nil
}

// encloses reports whether child is parent or lies below it.
func encloses(parent, child string) bool {
	p, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	ch, err := filepath.Abs(child)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p, ch)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Path resolves p against the project directory unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// StateDir is the absolute or project-relative state directory.
func (c *Config) StateDir() string { return c.Path(c.State.Dir) }

// ClassDirs returns the class directories resolved against the project.
func (c *Config) ClassDirs() []string {
	out := make([]string, len(c.Classes.Dirs))
	for i, d := range c.Classes.Dirs {
		out[i] = c.Path(d)
	}
	return out
}
