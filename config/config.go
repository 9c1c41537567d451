// Package config loads ralphloop settings from .ralph/config.yaml and
// RALPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/ralphloop/history"
	"github.com/martinemde/ralphloop/loop"
	"github.com/martinemde/ralphloop/taskrun"
)

// EnvPrefix prefixes environment overrides, e.g. RALPH_MODEL_PROVIDER.
const EnvPrefix = "RALPH"

// DefaultDir holds the config file, scratch record and history ledger.
const DefaultDir = ".ralph"

// Config is the full ralphloop configuration.
type Config struct {
	Model       ModelConfig       `mapstructure:"model"`
	Tasks       []taskrun.Task    `mapstructure:"tasks"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Loop        LoopConfig        `mapstructure:"loop"`
	Logging     LoggingConfig     `mapstructure:"logging"`

	// File is the config file that was read, or "" when none was found.
	File string `mapstructure:"-"`
}

type ModelConfig struct {
	Provider    string  `mapstructure:"provider"`
	Name        string  `mapstructure:"name"`
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	MaxRetries  int     `mapstructure:"max_retries"`
}

type DiagnosticsConfig struct {
	// Commands are run in the workspace root; their path:line:col output
	// lines become diagnostics.
	Commands []string      `mapstructure:"commands"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LoopConfig struct {
	MaxToolRounds int    `mapstructure:"max_tool_rounds"`
	CacheSize     int    `mapstructure:"cache_size"`
	ScratchPath   string `mapstructure:"scratch_path"`
	HistoryPath   string `mapstructure:"history_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.api_key", "")
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.temperature", 0.2)
	v.SetDefault("model.max_retries", 2)
	v.SetDefault("tasks", []map[string]interface{}{})
	v.SetDefault("diagnostics.commands", []string{})
	v.SetDefault("diagnostics.timeout", 2*time.Minute)
	v.SetDefault("loop.max_tool_rounds", 30)
	v.SetDefault("loop.cache_size", 256)
	v.SetDefault("loop.scratch_path", loop.DefaultScratchPath)
	v.SetDefault("loop.history_path", history.DefaultPath)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the configuration for the workspace at root. An explicit
// path must exist; otherwise root/.ralph/config.yaml is used when present
// and defaults apply when it is not. Environment variables override both.
func Load(root, path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(root, DefaultDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the loop cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Model.Provider) == "" {
		return errors.New("config: model.provider is required")
	}
	if c.Loop.MaxToolRounds <= 0 {
		return fmt.Errorf("config: loop.max_tool_rounds must be positive, got %d", c.Loop.MaxToolRounds)
	}
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Label == "" || t.Command == "" {
			return fmt.Errorf("config: tasks[%d] needs both label and command", i)
		}
		if seen[t.Label] {
			return fmt.Errorf("config: duplicate task label %q", t.Label)
		}
		seen[t.Label] = true
	}
	if _, err := c.Logging.ZapLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// ZapLevel parses Level.
func (l LoggingConfig) ZapLevel() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return lvl, fmt.Errorf("config: logging.level: %w", err)
	}
	return lvl, nil
}

// NewLogger builds the process logger. verbose forces debug level with
// the development console encoder.
func (l LoggingConfig) NewLogger(verbose bool) (*zap.Logger, error) {
	var zc zap.Config
	switch {
	case verbose:
		zc = zap.NewDevelopmentConfig()
	case l.Format == "json":
		zc = zap.NewProductionConfig()
	default:
		zc = zap.NewDevelopmentConfig()
		zc.DisableStacktrace = true
	}
	if !verbose {
		lvl, err := l.ZapLevel()
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
