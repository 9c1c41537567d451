package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, DefaultDir, "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.File)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, 4096, cfg.Model.MaxTokens)
	assert.Equal(t, 30, cfg.Loop.MaxToolRounds)
	assert.Equal(t, ".ralph/loop.local.yaml", cfg.Loop.ScratchPath)
	assert.Equal(t, ".ralph/history.db", cfg.Loop.HistoryPath)
	assert.Equal(t, 2*time.Minute, cfg.Diagnostics.Timeout)
	assert.Empty(t, cfg.Tasks)
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	path := writeConfig(t, root, `
model:
  provider: anthropic
  name: claude-sonnet-4-5
  temperature: 0
tasks:
  - label: build
    command: go build ./...
  - label: test
    command: go test ./...
    dir: pkg
    detail: unit tests
diagnostics:
  commands: ["go vet ./..."]
  timeout: 30s
loop:
  max_tool_rounds: 12
logging:
  level: debug
  format: json
`)

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model.Name)
	assert.Equal(t, 0.0, cfg.Model.Temperature)
	require.Len(t, cfg.Tasks, 2)
	assert.Equal(t, "test", cfg.Tasks[1].Label)
	assert.Equal(t, "pkg", cfg.Tasks[1].Dir)
	assert.Equal(t, "unit tests", cfg.Tasks[1].Detail)
	assert.Equal(t, []string{"go vet ./..."}, cfg.Diagnostics.Commands)
	assert.Equal(t, 30*time.Second, cfg.Diagnostics.Timeout)
	assert.Equal(t, 12, cfg.Loop.MaxToolRounds)

	lvl, err := cfg.Logging.ZapLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestLoadEnvOverrides(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "model:\n  provider: anthropic\n")
	t.Setenv("RALPH_MODEL_PROVIDER", "ollama")
	t.Setenv("RALPH_LOOP_MAX_TOOL_ROUNDS", "5")

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, 5, cfg.Loop.MaxToolRounds)
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"task without command", "tasks:\n  - label: build\n", "needs both label and command"},
		{"duplicate task", "tasks:\n  - {label: a, command: x}\n  - {label: a, command: y}\n", "duplicate task label"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"bad format", "logging:\n  format: xml\n", "logging.format"},
		{"zero rounds", "loop:\n  max_tool_rounds: 0\n", "max_tool_rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeConfig(t, root, tt.body)
			_, err := Load(root, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := LoggingConfig{Level: "warn", Format: "json"}.NewLogger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = LoggingConfig{Level: "warn", Format: "console"}.NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
