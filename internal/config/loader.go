package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	configName      = "skippy"
	configType      = "yaml"
	envPrefix       = "SKIPPY"
	envKeySeparator = "_"
)

// FlagKeys maps command-line flag names to config keys. Flags missing from
// the flag set passed to LoadConfig are ignored.
var FlagKeys = map[string]string{
	"project-dir":  "project_dir",
	"state-dir":    "state.dir",
	"backend":      "state.backend",
	"compression":  "state.compression",
	"classes-dir":  "classes.dirs",
	"manifest":     "tests.manifest",
	"pattern":      "tests.pattern",
	"command":      "executor.command",
	"coverage-dir": "executor.coverage_dir",
	"timeout":      "executor.timeout",
	"workers":      "hashing.workers",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"metrics-file": "metrics.textfile",
}

// LoadConfig loads configuration from flags, env vars, the config file and
// defaults, in that order of precedence.
// If configPath is empty, skippy.yaml is looked up in the project directory;
// a missing file is not an error. flags may be nil.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(v.GetString("project_dir"))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("project_dir", DefaultProjectDir)

	v.SetDefault("state.dir", DefaultStateDir)
	v.SetDefault("state.backend", DefaultStateBackend)
	v.SetDefault("state.compression", DefaultStateCompression)

	v.SetDefault("classes.dirs", DefaultClassDirs)

	v.SetDefault("tests.manifest", "")
	v.SetDefault("tests.pattern", DefaultTestsPattern)

	v.SetDefault("executor.command", "")
	v.SetDefault("executor.coverage_dir", DefaultExecutorCoverageDir)
	v.SetDefault("executor.timeout", DefaultExecutorTimeout)

	v.SetDefault("hashing.workers", DefaultHashingWorkers)

	v.SetDefault("logging.level", DefaultLoggingLevel)
	v.SetDefault("logging.format", DefaultLoggingFormat)

	v.SetDefault("metrics.textfile", "")
}
