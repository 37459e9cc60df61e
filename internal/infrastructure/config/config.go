package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration loaded from the environment at
// start. Runtime-mutable terminal settings are seeded from Terminal and
// mutated only through the session manager's update operation.
type Config struct {
	Server   ServerConfig
	Logging  LogConfig
	Terminal TerminalConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8070"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// TerminalConfig seeds the runtime terminal settings.
type TerminalConfig struct {
	Enabled            bool   `envconfig:"JIT_TERMINAL_ENABLED" default:"true"`
	AllowInProduction  bool   `envconfig:"JIT_TERMINAL_ALLOW_PRODUCTION" default:"false"`
	DefaultTimeoutMin  int    `envconfig:"JIT_TERMINAL_TIMEOUT_MINUTES" default:"15"`
	MaxTimeoutMin      int    `envconfig:"JIT_TERMINAL_MAX_TIMEOUT_MINUTES" default:"60"`
	MaxSessionsPerUser int    `envconfig:"JIT_TERMINAL_MAX_SESSIONS" default:"3"`
	RequireReauth      bool   `envconfig:"JIT_TERMINAL_REQUIRE_REAUTH" default:"true"`
	LogCommands        bool   `envconfig:"JIT_TERMINAL_LOG_COMMANDS" default:"true"`
	LogDir             string `envconfig:"JIT_TERMINAL_LOG_DIR" default:"/var/log/jitterm/sessions"`
	AuditFile          string `envconfig:"JIT_TERMINAL_AUDIT_FILE" default:"/var/log/jitterm/audit.jsonl"`
	SweepIntervalSec   int    `envconfig:"JIT_TERMINAL_SWEEP_SECONDS" default:"60"`
	Shell              string `envconfig:"JIT_TERMINAL_SHELL" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8070",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Terminal: TerminalConfig{
			Enabled:            true,
			AllowInProduction:  false,
			DefaultTimeoutMin:  15,
			MaxTimeoutMin:      60,
			MaxSessionsPerUser: 3,
			RequireReauth:      true,
			LogCommands:        true,
			LogDir:             "/var/log/jitterm/sessions",
			AuditFile:          "/var/log/jitterm/audit.jsonl",
			SweepIntervalSec:   60,
		},
	}
}
