package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/cogsolver/internal/domain"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(Options{EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "preliminary", cfg.Workflow.DefaultStatusID)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "cogsolver.yaml", `
server:
  port: 9090
cache:
  rules_ttl: 2m
workflow:
  default_status_id: pending
`)
	cfg, err := Load(Options{File: path, EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Cache.RulesTTL)
	assert.Equal(t, "pending", cfg.Workflow.DefaultStatusID)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml"), EnvFile: noEnvFile(t)})
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "cogsolver.yaml", "server:\n  port: 9090\n")
	t.Setenv("COGSOLVER_SERVER__PORT", "7070")
	t.Setenv("COGSOLVER_REPOSITORY__SQLITE_PATH", "/tmp/x.db")

	cfg, err := Load(Options{File: path, EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/x.db", cfg.Repository.SQLitePath)
}

func TestEnvFile(t *testing.T) {
	envFile := writeFile(t, ".env", "COGSOLVER_LOGGING__LEVEL=debug\n")
	t.Cleanup(func() { os.Unsetenv("COGSOLVER_LOGGING__LEVEL") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestProTier(t *testing.T) {
	t.Setenv("COGSOLVER_TIER", "pro")

	cfg, err := Load(Options{EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
}

func TestFlagsWin(t *testing.T) {
	t.Setenv("COGSOLVER_SERVER__PORT", "7070")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("port", 8080, "")
	flags.String("log-level", "info", "")
	flags.String("config", "", "")
	require.NoError(t, flags.Parse([]string{"--port", "6060", "--config", "ignored.yaml"}))

	cfg, err := Load(Options{Flags: flags, EnvFile: noEnvFile(t)})
	require.NoError(t, err)
	assert.Equal(t, 6060, cfg.Server.Port)
	// Unchanged flags do not override defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"Tier", "COGSOLVER_TIER", "enterprise"},
		{"Port", "COGSOLVER_SERVER__PORT", "70000"},
		{"Level", "COGSOLVER_LOGGING__LEVEL", "loud"},
		{"Format", "COGSOLVER_LOGGING__FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load(Options{EnvFile: noEnvFile(t)})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(domain.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
