// Package config loads sensord's daemon tuning via Viper, with TOML as the
// on-disk format and SENSORD_-prefixed environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/sensorloop/sensorcore/errors"
)

// Config holds every tunable the daemon reads at startup.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Daemon   DaemonConfig   `mapstructure:"daemon"`
	Workers  WorkersConfig  `mapstructure:"workers"`
}

// DatabaseConfig configures the Instance Store's SQLite backend.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DaemonConfig configures the iteration loop's timing knobs.
type DaemonConfig struct {
	MinLoopSeconds                int `mapstructure:"min_loop_seconds"`
	MaxTimeToResumeTickSeconds    int `mapstructure:"max_time_to_resume_tick_seconds"`
	MaxFailureResubmissionRetries int `mapstructure:"max_failure_resubmission_retries"`
	TickRetentionSuccessDays      int `mapstructure:"tick_retention_success_days"`
	TickRetentionFailureDays      int `mapstructure:"tick_retention_failure_days"`
	TickRetentionSkippedDays      int `mapstructure:"tick_retention_skipped_days"`
}

// WorkersConfig sizes the evaluation and submission worker pools.
type WorkersConfig struct {
	EvaluationWorkers int `mapstructure:"evaluation_workers"`
	SubmissionWorkers int `mapstructure:"submission_workers"`
}

var (
	globalConfig  *Config
	viperInstance *viper.Viper
)

// Load reads the daemon configuration using Viper, caching the result.
func Load() (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific TOML file path, ignoring
// the cache and environment search path.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &cfg, nil
}

// Reset clears the cached configuration. Useful for tests.
func Reset() {
	globalConfig = nil
	viperInstance = nil
}

// SetDefaults installs the daemon's default tuning values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "sensord.db")

	v.SetDefault("daemon.min_loop_seconds", 5)
	v.SetDefault("daemon.max_time_to_resume_tick_seconds", 86400)
	v.SetDefault("daemon.max_failure_resubmission_retries", 1)
	v.SetDefault("daemon.tick_retention_success_days", 1)
	v.SetDefault("daemon.tick_retention_failure_days", 30)
	v.SetDefault("daemon.tick_retention_skipped_days", 7)

	v.SetDefault("workers.evaluation_workers", 4)
	v.SetDefault("workers.submission_workers", 4)
}

func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("SENSORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if projectConfig := findProjectConfig(); projectConfig != "" {
		v.SetConfigFile(projectConfig)
		v.SetConfigType("toml")
		// A missing or malformed project config falls back to defaults plus
		// whatever environment variables are set.
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for
// sensord.toml, matching the precedence a developer expects from a local
// override file checked into a project root.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, "sensord.toml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
