package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the HTTP and MCP front-door configuration
type ServerConfig struct {
	Transport   string `mapstructure:"transport"` // http, mcp-stdio or mcp-http
	HTTPPort    int    `mapstructure:"http_port"`
	QueueWaitMS int    `mapstructure:"queue_wait_ms"`
}

// SandboxConfig holds the execution limits enforced on every script.
// It is owned by the coordinator and serialized read-only to workers.
type SandboxConfig struct {
	AllowedImports    []string `mapstructure:"allowed_imports" json:"allowed_imports"`
	MaxCodeBytes      int      `mapstructure:"max_code_bytes" json:"max_code_bytes"`
	MaxASTNodes       int      `mapstructure:"max_ast_nodes" json:"max_ast_nodes"`
	MaxCPUSeconds     int      `mapstructure:"max_cpu_seconds" json:"max_cpu_seconds"`
	MaxMemoryBytes    int64    `mapstructure:"max_memory_bytes" json:"max_memory_bytes"`
	MaxOutputBytes    int      `mapstructure:"max_output_bytes" json:"max_output_bytes"`
	MaxConcurrent     int      `mapstructure:"max_concurrent_executions" json:"max_concurrent_executions"`
	MaxProcesses      int      `mapstructure:"max_processes" json:"max_processes"`
	DefaultTimeoutSec int      `mapstructure:"default_timeout_sec" json:"default_timeout_sec"`
	MaxTimeoutSec     int      `mapstructure:"max_timeout_sec" json:"max_timeout_sec"`
	SharedSecret      string   `mapstructure:"shared_secret" json:"-"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("scriptbox")
	viper.AutomaticEnv()
	// shared_secret is usually injected via SCRIPTBOX_SANDBOX_SHARED_SECRET
	// rather than committed to a config file.
	_ = viper.BindEnv("sandbox.shared_secret", "SCRIPTBOX_SANDBOX_SHARED_SECRET")

	// Set default values
	viper.SetDefault("server.transport", "http")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.queue_wait_ms", 2000)

	viper.SetDefault("sandbox.allowed_imports", []string{"log", "text", "clock", "encoding"})
	viper.SetDefault("sandbox.max_code_bytes", 64*1024)
	viper.SetDefault("sandbox.max_ast_nodes", 50000)
	viper.SetDefault("sandbox.max_cpu_seconds", 5)
	// The limit lands on the worker's whole address space, which includes
	// the Go runtime's own virtual reservations (it fails to boot under
	// roughly 2GB), not just script allocations.
	viper.SetDefault("sandbox.max_memory_bytes", int64(4*1024*1024*1024))
	viper.SetDefault("sandbox.max_output_bytes", 64*1024)
	viper.SetDefault("sandbox.max_concurrent_executions", 4)
	viper.SetDefault("sandbox.max_processes", 64)
	viper.SetDefault("sandbox.default_timeout_sec", 10)
	viper.SetDefault("sandbox.max_timeout_sec", 30)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// Validate ensures the configuration is valid. A missing shared secret is a
// fatal startup error: there is no permissive fallback.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "http", "mcp-stdio", "mcp-http":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'http', 'mcp-stdio' or 'mcp-http'", c.Server.Transport)
	}

	if c.Server.QueueWaitMS < 0 {
		return fmt.Errorf("server.queue_wait_ms must not be negative, got: %d", c.Server.QueueWaitMS)
	}

	if c.Sandbox.SharedSecret == "" {
		return fmt.Errorf("sandbox.shared_secret is required (set SCRIPTBOX_SANDBOX_SHARED_SECRET)")
	}

	if c.Sandbox.MaxCodeBytes <= 0 {
		return fmt.Errorf("sandbox.max_code_bytes must be positive, got: %d", c.Sandbox.MaxCodeBytes)
	}
	if c.Sandbox.MaxASTNodes <= 0 {
		return fmt.Errorf("sandbox.max_ast_nodes must be positive, got: %d", c.Sandbox.MaxASTNodes)
	}
	if c.Sandbox.MaxCPUSeconds <= 0 {
		return fmt.Errorf("sandbox.max_cpu_seconds must be positive, got: %d", c.Sandbox.MaxCPUSeconds)
	}
	if c.Sandbox.MaxMemoryBytes <= 0 {
		return fmt.Errorf("sandbox.max_memory_bytes must be positive, got: %d", c.Sandbox.MaxMemoryBytes)
	}
	if c.Sandbox.MaxOutputBytes <= 0 {
		return fmt.Errorf("sandbox.max_output_bytes must be positive, got: %d", c.Sandbox.MaxOutputBytes)
	}
	if c.Sandbox.MaxConcurrent <= 0 {
		return fmt.Errorf("sandbox.max_concurrent_executions must be positive, got: %d", c.Sandbox.MaxConcurrent)
	}
	if c.Sandbox.MaxProcesses <= 0 {
		return fmt.Errorf("sandbox.max_processes must be positive, got: %d", c.Sandbox.MaxProcesses)
	}
	if c.Sandbox.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.default_timeout_sec must be positive, got: %d", c.Sandbox.DefaultTimeoutSec)
	}
	if c.Sandbox.MaxTimeoutSec < c.Sandbox.DefaultTimeoutSec {
		return fmt.Errorf("sandbox.max_timeout_sec must be >= default_timeout_sec, got: %d < %d",
			c.Sandbox.MaxTimeoutSec, c.Sandbox.DefaultTimeoutSec)
	}

	return nil
}

// QueueWait returns how long a request may wait for a concurrency slot.
func (c *Config) QueueWait() time.Duration {
	return time.Duration(c.Server.QueueWaitMS) * time.Millisecond
}

// DefaultTimeout returns the execution timeout applied when a request does
// not specify one.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutSec) * time.Second
}

// ImportAllowed reports whether a module name is on the import allow-list.
func (s *SandboxConfig) ImportAllowed(name string) bool {
	for _, m := range s.AllowedImports {
		if m == name {
			return true
		}
	}
	return false
}
