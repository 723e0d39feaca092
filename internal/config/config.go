// Package config loads EWE settings from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	ewerrors "github.com/justakazh/ewe/internal/errors"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// RunLogFormat specifies the encoding of the persisted run log.
type RunLogFormat string

const (
	RunLogFormatJSON RunLogFormat = "json"
	RunLogFormatYAML RunLogFormat = "yaml"
)

// EngineConfig holds scheduler and process settings.
type EngineConfig struct {
	// Shell runs every materialized command as `<shell> -c <command>`.
	Shell string `toml:"shell"`

	// PollInterval is the wait_all barrier re-check interval.
	PollInterval time.Duration `toml:"poll_interval"`

	// KillGrace is how long a terminated process group gets before SIGKILL.
	KillGrace time.Duration `toml:"kill_grace"`

	// ShutdownGrace is how long the CLI waits after cancellation before exiting.
	ShutdownGrace time.Duration `toml:"shutdown_grace"`

	// MaxParallel caps simultaneously live processes. Zero means unbounded.
	MaxParallel int `toml:"max_parallel"`

	// EnvFile is a dotenv file whose variables are added to every command.
	EnvFile string `toml:"env_file"`
}

// OutputConfig holds run log settings, relative to the run output directory.
type OutputConfig struct {
	LogDir    string       `toml:"log_dir"`
	LogFile   string       `toml:"log_file"`
	LogFormat RunLogFormat `toml:"log_format"`
}

// DisplayConfig holds terminal rendering settings.
type DisplayConfig struct {
	RefreshInterval time.Duration `toml:"refresh_interval"`
	NoColor         bool          `toml:"no_color"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for EWE.
type Config struct {
	Version string        `toml:"version"`
	Engine  EngineConfig  `toml:"engine"`
	Output  OutputConfig  `toml:"output"`
	Display DisplayConfig `toml:"display"`
	Logging LoggingConfig `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Engine: EngineConfig{
			Shell:         "/bin/sh",
			PollInterval:  500 * time.Millisecond,
			KillGrace:     3 * time.Second,
			ShutdownGrace: time.Second,
		},
		Output: OutputConfig{
			LogDir:    "logs",
			LogFile:   "logs.json",
			LogFormat: RunLogFormatJSON,
		},
		Display: DisplayConfig{
			RefreshInterval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  LogLevelWarn,
			Format: LogFormatText,
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.merge(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations.
// Applies in order: defaults -> ~/.ewe/config.toml -> <dir>/.ewe/config.toml -> explicit.
// Later files override earlier ones. An empty explicit path is skipped; a
// missing explicit file is an error.
func LoadFromDir(dir, explicit string) (*Config, error) {
	cfg := Default()

	if home, err := os.UserHomeDir(); err == nil {
		if err := cfg.merge(filepath.Join(home, ".ewe", "config.toml")); err != nil {
			return nil, fmt.Errorf("global config: %w", err)
		}
	}

	if dir != "" {
		if err := cfg.merge(filepath.Join(dir, ".ewe", "config.toml")); err != nil {
			return nil, fmt.Errorf("project config: %w", err)
		}
	}

	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cfg.merge(explicit); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// merge decodes a TOML file over the current values. Missing files are ignored.
func (c *Config) merge(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if os.IsPermission(err) {
			return ewerrors.IOPermissionDenied(path, err)
		}
		return ewerrors.IOReadError(path, err)
	}
	if _, err := toml.Decode(string(data), c); err != nil {
		return ewerrors.Wrapf(ewerrors.CodeConfigInvalidValue, err, "parsing config %s", path)
	}
	return nil
}

// Validate checks that the configuration is valid. Problems are reported
// as CONFIG_001 for absent fields and CONFIG_002 for bad values.
func (c *Config) Validate() error {
	if c.Version == "" {
		return ewerrors.ConfigMissingField("version")
	}
	if c.Engine.Shell == "" {
		return ewerrors.ConfigMissingField("engine.shell")
	}
	if c.Engine.PollInterval <= 0 {
		return ewerrors.ConfigInvalidValue("engine.poll_interval", c.Engine.PollInterval, "must be positive")
	}
	if c.Engine.KillGrace < 0 {
		return ewerrors.ConfigInvalidValue("engine.kill_grace", c.Engine.KillGrace, "must not be negative")
	}
	if c.Engine.ShutdownGrace < 0 {
		return ewerrors.ConfigInvalidValue("engine.shutdown_grace", c.Engine.ShutdownGrace, "must not be negative")
	}
	if c.Engine.MaxParallel < 0 {
		return ewerrors.ConfigInvalidValue("engine.max_parallel", c.Engine.MaxParallel, "must not be negative")
	}
	if c.Output.LogDir == "" {
		return ewerrors.ConfigMissingField("output.log_dir")
	}
	if c.Output.LogFile == "" {
		return ewerrors.ConfigMissingField("output.log_file")
	}
	switch c.Output.LogFormat {
	case RunLogFormatJSON, RunLogFormatYAML:
	default:
		return ewerrors.ConfigInvalidValue("output.log_format", c.Output.LogFormat, "must be json or yaml")
	}
	if c.Display.RefreshInterval <= 0 {
		return ewerrors.ConfigInvalidValue("display.refresh_interval", c.Display.RefreshInterval, "must be positive")
	}
	return nil
}

// LogDir returns the run log directory inside the output directory.
func (c *Config) LogDir(outputDir string) string {
	if filepath.IsAbs(c.Output.LogDir) {
		return c.Output.LogDir
	}
	return filepath.Join(outputDir, c.Output.LogDir)
}

// RunLogPath returns the run log file path inside the output directory.
func (c *Config) RunLogPath(outputDir string) string {
	return filepath.Join(c.LogDir(outputDir), c.Output.LogFile)
}

// CommandEnv reads the configured dotenv file. It returns nil when none is set.
func (c *Config) CommandEnv() (map[string]string, error) {
	if c.Engine.EnvFile == "" {
		return nil, nil
	}
	env, err := godotenv.Read(c.Engine.EnvFile)
	if err != nil {
		return nil, fmt.Errorf("reading env file %s: %w", c.Engine.EnvFile, err)
	}
	return env, nil
}
