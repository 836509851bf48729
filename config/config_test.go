package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEnvProvider serves environment variables from a map
type MockEnvProvider struct {
	homeDir string
	vars    map[string]string
}

func NewMockEnvProvider(homeDir string, vars map[string]string) *MockEnvProvider {
	return &MockEnvProvider{homeDir: homeDir, vars: vars}
}

func (m *MockEnvProvider) Getenv(key string) string {
	return m.vars[key]
}

func (m *MockEnvProvider) UserHomeDir() (string, error) {
	return m.homeDir, nil
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfigWithEnv_Defaults(t *testing.T) {
	cfg, err := NewConfigWithEnv("", NewMockEnvProvider("/home/test", map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "/home/test/.local/share/moor", cfg.DataDir)
	assert.Equal(t, "/home/test/.local/share/moor/moor.db", cfg.DatabasePath)
	assert.Equal(t, "/home/test/.local/share/moor/generated", cfg.CodegenRoot)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, EnvironmentDevelopment, cfg.Environment)
	assert.Equal(t, QueueBackendMemory, cfg.QueueBackend)
	assert.Equal(t, 10*time.Second, cfg.SSHConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.SSHCommandTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.JobPollInterval)
	assert.Equal(t, 60*time.Second, cfg.JobWaitTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestNewConfigWithEnv_XDGDataHome(t *testing.T) {
	cfg, err := NewConfigWithEnv("", NewMockEnvProvider("/home/test", map[string]string{
		"XDG_DATA_HOME": "/xdg",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/xdg/moor", cfg.DataDir)
}

func TestNewConfigWithEnv_YAML(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /srv/moor
log_level: debug
log_format: json
environment: production
encryption_key: super-secret
http:
  host: 0.0.0.0
  port: 9090
queue:
  backend: redis
  concurrency: 8
redis:
  addr: redis:6379
  db: 2
ssh:
  connect_timeout: 5s
  known_hosts: /etc/moor/known_hosts
jobs:
  wait_timeout: 2m
limits:
  max_deployments_per_project: 3
reconciler:
  interval: 30s
`)

	cfg, err := NewConfigWithEnv(path, NewMockEnvProvider("/home/test", map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, "/srv/moor", cfg.DataDir)
	assert.Equal(t, "/srv/moor/moor.db", cfg.DatabasePath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "super-secret", cfg.EncryptionKey)
	assert.Equal(t, "0.0.0.0", cfg.HTTPHost)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, 8, cfg.QueueConcurrency)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, 5*time.Second, cfg.SSHConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.SSHCommandTimeout)
	assert.Equal(t, "/etc/moor/known_hosts", cfg.SSHKnownHosts)
	assert.Equal(t, 2*time.Minute, cfg.JobWaitTimeout)
	assert.Equal(t, 3, cfg.MaxDeploymentsPerProject)
	assert.Equal(t, 30*time.Second, cfg.ReconcilerInterval)
}

func TestNewConfigWithEnv_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, "log_level: debug\nhttp:\n  port: 9090\n")

	cfg, err := NewConfigWithEnv(path, NewMockEnvProvider("/home/test", map[string]string{
		"MOOR_LOG_LEVEL":     "warning",
		"MOOR_HTTP_PORT":     "7070",
		"MOOR_QUEUE_BACKEND": "redis",
		"MOOR_REDIS_ADDR":    "10.0.0.5:6379",
		"MOOR_USER":          "alice",
	}))
	require.NoError(t, err)

	assert.Equal(t, "warning", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.HTTPPort)
	assert.Equal(t, QueueBackendRedis, cfg.QueueBackend)
	assert.Equal(t, "10.0.0.5:6379", cfg.RedisAddr)
	assert.Equal(t, "alice", cfg.User)
}

func TestNewConfigWithEnv_NonExistentExplicitPath(t *testing.T) {
	cfg, err := NewConfigWithEnv("/explicit/non/existent/moor.yaml", NewMockEnvProvider("/home/test", nil))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to load config file")
	assert.Contains(t, err.Error(), "failed to read config file /explicit/non/existent/moor.yaml")
}

func TestNewConfigWithEnv_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		env         map[string]string
		errContains string
	}{
		{
			name:        "invalid log level",
			yaml:        "log_level: verbose\n",
			errContains: "invalid log level",
		},
		{
			name:        "invalid port",
			yaml:        "http:\n  port: 70000\n",
			errContains: "invalid HTTP port",
		},
		{
			name:        "unknown queue backend",
			yaml:        "queue:\n  backend: kafka\n",
			errContains: "invalid queue backend",
		},
		{
			name:        "bad duration",
			yaml:        "ssh:\n  connect_timeout: soon\n",
			errContains: "invalid duration for ssh.connect_timeout",
		},
		{
			name:        "non-positive duration",
			yaml:        "jobs:\n  poll_interval: 0s\n",
			errContains: "job poll interval must be positive",
		},
		{
			name:        "production without key",
			yaml:        "environment: production\n",
			errContains: "encryption key is required in production",
		},
		{
			name:        "unknown environment",
			env:         map[string]string{"MOOR_ENVIRONMENT": "staging"},
			errContains: "invalid environment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.yaml != "" {
				path = writeConfigFile(t, tt.yaml)
			}
			cfg, err := NewConfigWithEnv(path, NewMockEnvProvider("/home/test", tt.env))
			assert.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestNewConfigForCLIWithEnv_DataDirOverride(t *testing.T) {
	cfg, err := NewConfigForCLIWithEnv("", "/tmp/cli-data", NewMockEnvProvider("/home/test", map[string]string{
		"MOOR_DATA_DIR": "/from/env",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/cli-data", cfg.DataDir)
	assert.Equal(t, "/tmp/cli-data/moor.db", cfg.DatabasePath)
}
