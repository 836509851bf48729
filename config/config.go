// Package config loads moor configuration from defaults, a YAML file and MOOR_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/oar-cd/moor/logging"
	"gopkg.in/yaml.v3"
)

const (
	EnvironmentDevelopment = "development"
	EnvironmentProduction  = "production"

	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// EnvProvider abstracts environment variable access for testing
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *DefaultEnvProvider) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// GetDefaultDataDir returns the default data directory following the XDG Base Directory specification
func GetDefaultDataDir() string {
	return getDefaultDataDirWithEnv(&DefaultEnvProvider{})
}

func getDefaultDataDirWithEnv(env EnvProvider) string {
	if xdgDataHome := env.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, "moor")
	}

	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", "moor")
}

// Config holds configuration for all services
type Config struct {
	// Core paths
	DataDir      string
	DatabasePath string

	// Logging
	LogLevel     string
	LogFormat    string
	ColorEnabled bool

	Environment   string
	EncryptionKey string

	// HTTP server
	HTTPHost string
	HTTPPort int

	// Queue
	QueueBackend     string
	QueuePrefix      string
	QueueConcurrency int
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	// SSH
	SSHConnectTimeout time.Duration
	SSHCommandTimeout time.Duration
	SSHKnownHosts     string

	// Jobs
	JobWaitTimeout        time.Duration
	JobPollInterval       time.Duration
	JobCompletedRetention time.Duration

	// Limits
	MaxServersPerOwner       int
	MaxDeploymentsPerProject int

	CodegenRoot        string
	ReconcilerInterval time.Duration

	// User is the caller identity the CLI acts as
	User string

	env EnvProvider
}

// fileConfig mirrors the YAML layout. Pointer fields distinguish "absent" from zero values.
type fileConfig struct {
	DataDir       *string `yaml:"data_dir"`
	DatabasePath  *string `yaml:"database_path"`
	LogLevel      *string `yaml:"log_level"`
	LogFormat     *string `yaml:"log_format"`
	ColorEnabled  *bool   `yaml:"color_enabled"`
	Environment   *string `yaml:"environment"`
	EncryptionKey *string `yaml:"encryption_key"`
	User          *string `yaml:"user"`
	HTTP          struct {
		Host *string `yaml:"host"`
		Port *int    `yaml:"port"`
	} `yaml:"http"`
	Queue struct {
		Backend     *string `yaml:"backend"`
		Prefix      *string `yaml:"prefix"`
		Concurrency *int    `yaml:"concurrency"`
	} `yaml:"queue"`
	Redis struct {
		Addr     *string `yaml:"addr"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"redis"`
	SSH struct {
		ConnectTimeout *string `yaml:"connect_timeout"`
		CommandTimeout *string `yaml:"command_timeout"`
		KnownHosts     *string `yaml:"known_hosts"`
	} `yaml:"ssh"`
	Jobs struct {
		WaitTimeout        *string `yaml:"wait_timeout"`
		PollInterval       *string `yaml:"poll_interval"`
		CompletedRetention *string `yaml:"completed_retention"`
	} `yaml:"jobs"`
	Limits struct {
		MaxServersPerOwner       *int `yaml:"max_servers_per_owner"`
		MaxDeploymentsPerProject *int `yaml:"max_deployments_per_project"`
	} `yaml:"limits"`
	Codegen struct {
		Root *string `yaml:"root"`
	} `yaml:"codegen"`
	Reconciler struct {
		Interval *string `yaml:"interval"`
	} `yaml:"reconciler"`
}

// NewConfig loads configuration from an optional YAML file and the process environment
func NewConfig(configPath string) (*Config, error) {
	return NewConfigWithEnv(configPath, &DefaultEnvProvider{})
}

// NewConfigWithEnv creates a configuration with a custom environment provider (for testing).
// An empty configPath skips the YAML layer.
func NewConfigWithEnv(configPath string, env EnvProvider) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()

	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	c.loadFromEnv()
	c.derivePaths()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

// NewConfigForCLI creates a configuration for CLI usage with an optional data directory override
func NewConfigForCLI(configPath, cliDataDir string) (*Config, error) {
	return NewConfigForCLIWithEnv(configPath, cliDataDir, &DefaultEnvProvider{})
}

func NewConfigForCLIWithEnv(configPath, cliDataDir string, env EnvProvider) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()

	if configPath != "" {
		if err := c.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	c.loadFromEnv()

	if cliDataDir != "" {
		c.DataDir = cliDataDir
		c.DatabasePath = ""
	}

	c.derivePaths()

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

func (c *Config) setDefaults() {
	c.DataDir = getDefaultDataDirWithEnv(c.env)
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.ColorEnabled = true
	c.Environment = EnvironmentDevelopment
	c.HTTPHost = "127.0.0.1"
	c.HTTPPort = 8080
	c.QueueBackend = QueueBackendMemory
	c.QueuePrefix = "moor"
	c.QueueConcurrency = 4
	c.RedisAddr = "127.0.0.1:6379"
	c.SSHConnectTimeout = 10 * time.Second
	c.SSHCommandTimeout = 30 * time.Second
	c.JobWaitTimeout = 60 * time.Second
	c.JobPollInterval = 500 * time.Millisecond
	c.JobCompletedRetention = 5 * time.Minute
	c.MaxServersPerOwner = 50
	c.MaxDeploymentsPerProject = 100
	c.ReconcilerInterval = time.Minute
	c.User = "local"
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.DataDir, fc.DataDir)
	setString(&c.DatabasePath, fc.DatabasePath)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	if fc.ColorEnabled != nil {
		c.ColorEnabled = *fc.ColorEnabled
	}
	setString(&c.Environment, fc.Environment)
	setString(&c.EncryptionKey, fc.EncryptionKey)
	setString(&c.User, fc.User)
	setString(&c.HTTPHost, fc.HTTP.Host)
	setInt(&c.HTTPPort, fc.HTTP.Port)
	setString(&c.QueueBackend, fc.Queue.Backend)
	setString(&c.QueuePrefix, fc.Queue.Prefix)
	setInt(&c.QueueConcurrency, fc.Queue.Concurrency)
	setString(&c.RedisAddr, fc.Redis.Addr)
	setString(&c.RedisPassword, fc.Redis.Password)
	setInt(&c.RedisDB, fc.Redis.DB)
	setString(&c.SSHKnownHosts, fc.SSH.KnownHosts)
	setInt(&c.MaxServersPerOwner, fc.Limits.MaxServersPerOwner)
	setInt(&c.MaxDeploymentsPerProject, fc.Limits.MaxDeploymentsPerProject)
	setString(&c.CodegenRoot, fc.Codegen.Root)

	durations := []struct {
		name  string
		value *string
		dst   *time.Duration
	}{
		{"ssh.connect_timeout", fc.SSH.ConnectTimeout, &c.SSHConnectTimeout},
		{"ssh.command_timeout", fc.SSH.CommandTimeout, &c.SSHCommandTimeout},
		{"jobs.wait_timeout", fc.Jobs.WaitTimeout, &c.JobWaitTimeout},
		{"jobs.poll_interval", fc.Jobs.PollInterval, &c.JobPollInterval},
		{"jobs.completed_retention", fc.Jobs.CompletedRetention, &c.JobCompletedRetention},
		{"reconciler.interval", fc.Reconciler.Interval, &c.ReconcilerInterval},
	}
	for _, d := range durations {
		if d.value == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *Config) loadFromEnv() {
	if v := c.env.Getenv("MOOR_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := c.env.Getenv("MOOR_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := c.env.Getenv("MOOR_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := c.env.Getenv("MOOR_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := c.env.Getenv("MOOR_COLOR_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.ColorEnabled = enabled
		}
	}
	if v := c.env.Getenv("MOOR_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := c.env.Getenv("MOOR_ENCRYPTION_KEY"); v != "" {
		c.EncryptionKey = v
	}
	if v := c.env.Getenv("MOOR_USER"); v != "" {
		c.User = v
	}
	if v := c.env.Getenv("MOOR_HTTP_HOST"); v != "" {
		c.HTTPHost = v
	}
	if v := c.env.Getenv("MOOR_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTPPort = port
		}
	}
	if v := c.env.Getenv("MOOR_QUEUE_BACKEND"); v != "" {
		c.QueueBackend = v
	}
	if v := c.env.Getenv("MOOR_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.QueueConcurrency = n
		}
	}
	if v := c.env.Getenv("MOOR_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := c.env.Getenv("MOOR_REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := c.env.Getenv("MOOR_SSH_KNOWN_HOSTS"); v != "" {
		c.SSHKnownHosts = v
	}
	if v := c.env.Getenv("MOOR_JOB_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.JobWaitTimeout = d
		}
	}
	if v := c.env.Getenv("MOOR_CODEGEN_ROOT"); v != "" {
		c.CodegenRoot = v
	}
}

// derivePaths calculates dependent paths from the base DataDir
func (c *Config) derivePaths() {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "moor.db")
	}
	if c.CodegenRoot == "" {
		c.CodegenRoot = filepath.Join(c.DataDir, "generated")
	}
}

func (c *Config) validate() error {
	if !slices.Contains(logging.ValidLogLevels(), c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warning, error, or silent)", c.LogLevel)
	}

	if !slices.Contains(logging.ValidLogFormats(), c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}

	if c.Environment != EnvironmentDevelopment && c.Environment != EnvironmentProduction {
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Environment)
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d (must be 1-65535)", c.HTTPPort)
	}

	if c.QueueBackend != QueueBackendMemory && c.QueueBackend != QueueBackendRedis {
		return fmt.Errorf("invalid queue backend: %s (must be memory or redis)", c.QueueBackend)
	}

	if c.QueueConcurrency < 1 {
		return fmt.Errorf("queue concurrency must be positive, got: %d", c.QueueConcurrency)
	}

	positive := map[string]time.Duration{
		"ssh connect timeout":     c.SSHConnectTimeout,
		"ssh command timeout":     c.SSHCommandTimeout,
		"job wait timeout":        c.JobWaitTimeout,
		"job poll interval":       c.JobPollInterval,
		"job completed retention": c.JobCompletedRetention,
		"reconciler interval":     c.ReconcilerInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got: %v", name, d)
		}
	}

	if c.MaxServersPerOwner < 1 || c.MaxDeploymentsPerProject < 1 {
		return fmt.Errorf("limits must be positive")
	}

	if c.Environment == EnvironmentProduction && c.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required in production - set MOOR_ENCRYPTION_KEY or encryption_key")
	}

	return nil
}

// IsProduction reports whether the process runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
