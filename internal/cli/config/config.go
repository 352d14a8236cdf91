package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	generr "github.com/conduit-lang/svcgen/internal/errors"
	"github.com/conduit-lang/svcgen/internal/logging"
	"github.com/conduit-lang/svcgen/internal/loop"
)

// FileName is the configuration file svcgen looks for
const FileName = "svcgen.yml"

// EnvPrefix prefixes environment overrides, e.g. SVCGEN_LOOP_MAX_ITERATIONS
const EnvPrefix = "SVCGEN"

// Fix modes
const (
	FixModeCommand = "command"
	FixModePatch   = "patch"
)

// Config represents the svcgen configuration
type Config struct {
	Output    string          `mapstructure:"output"`
	Loop      LoopConfig      `mapstructure:"loop"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Lock      LockConfig      `mapstructure:"lock"`
	History   HistoryConfig   `mapstructure:"history"`
	Log       LogConfig       `mapstructure:"log"`

	// File is the config file that was read, empty when defaults were used
	File string `mapstructure:"-"`
}

// LoopConfig configures the build-test-fix loop
type LoopConfig struct {
	MaxIterations int    `mapstructure:"max_iterations"`
	BuildCommand  string `mapstructure:"build_command"`
	TestCommand   string `mapstructure:"test_command"`
	FixCommand    string `mapstructure:"fix_command"`
	FixMode       string `mapstructure:"fix_mode"`
}

// TemplatesConfig points at a directory of template overrides
type TemplatesConfig struct {
	Dir string `mapstructure:"dir"`
}

// LockConfig configures the cross-process shared-artifact lock
type LockConfig struct {
	RedisURL string        `mapstructure:"redis_url"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HistoryConfig configures the run history store
type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// LogConfig configures logging
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output", "out")
	v.SetDefault("loop.max_iterations", 3)
	v.SetDefault("loop.build_command", "mvn -B -q compile")
	v.SetDefault("loop.test_command", "mvn -B test")
	v.SetDefault("loop.fix_command", "")
	v.SetDefault("loop.fix_mode", FixModeCommand)
	v.SetDefault("templates.dir", "")
	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("history.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)
}

// Load loads the configuration. An explicit path must exist; without one,
// svcgen.yml is searched for from the working directory upward and defaults
// apply when none is found.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		found, err := FindConfig()
		if err == nil {
			path = found
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.File = path

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// FindConfig looks for svcgen.yml from the working directory upward
func FindConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found", FileName)
		}
		dir = parent
	}
}

// DatabaseURL returns the history database URL from the config or, failing
// that, from DATABASE_URL
func (c *Config) DatabaseURL() string {
	if c.History.DatabaseURL != "" {
		return c.History.DatabaseURL
	}
	return os.Getenv("DATABASE_URL")
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	var errs generr.List

	if strings.TrimSpace(cfg.Output) == "" {
		errs = append(errs, generr.NewInvalidConfig("output", "must not be empty"))
	}
	if cfg.Loop.MaxIterations < 1 {
		errs = append(errs, generr.NewInvalidConfig("loop.max_iterations",
			fmt.Sprintf("must be at least 1, got %d", cfg.Loop.MaxIterations)))
	}
	if strings.TrimSpace(cfg.Loop.BuildCommand) == "" {
		errs = append(errs, generr.NewInvalidConfig("loop.build_command", "must not be empty"))
	}
	if strings.TrimSpace(cfg.Loop.TestCommand) == "" {
		errs = append(errs, generr.NewInvalidConfig("loop.test_command", "must not be empty"))
	} else if err := loop.CheckTestCommand(cfg.Loop.TestCommand); err != nil {
		var e *generr.Error
		if errors.As(err, &e) {
			errs = append(errs, e)
		}
	}
	if cfg.Loop.FixMode != FixModeCommand && cfg.Loop.FixMode != FixModePatch {
		errs = append(errs, generr.NewInvalidConfig("loop.fix_mode",
			fmt.Sprintf("must be %q or %q, got %q", FixModeCommand, FixModePatch, cfg.Loop.FixMode)))
	}
	if cfg.Lock.TTL <= 0 {
		errs = append(errs, generr.NewInvalidConfig("lock.ttl", "must be greater than 0"))
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, generr.NewInvalidConfig("log.level", err.Error()))
	}
	if f := strings.ToLower(cfg.Log.Format); f != logging.FormatConsole && f != logging.FormatJSON {
		errs = append(errs, generr.NewInvalidConfig("log.format",
			fmt.Sprintf("must be %q or %q, got %q", logging.FormatConsole, logging.FormatJSON, cfg.Log.Format)))
	}

	return errs.ErrOrNil()
}

// Starter returns the content of a starter svcgen.yml
func Starter(output string, maxIterations int) string {
	return fmt.Sprintf(`# svcgen configuration
output: %s

loop:
  max_iterations: %d
  build_command: mvn -B -q compile
  test_command: mvn -B test
  # fix_command receives the failed build result as JSON on stdin
  fix_command: ""
  fix_mode: command

templates:
  dir: ""

lock:
  redis_url: ""
  ttl: 30s

history:
  database_url: ""

log:
  level: info
  format: console
`, output, maxIterations)
}
