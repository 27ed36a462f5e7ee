// Package config provides layered configuration for the license server and
// the popwatch client: built-in defaults, overridden by an optional YAML
// file, overridden by POPWATCH_* environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	License  LicenseConfig  `yaml:"license" envconfig:"LICENSE"`
	Client   ClientConfig   `yaml:"client" envconfig:"CLIENT"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Paths    PathsConfig    `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains per-IP rate limiting for the verify endpoint.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// DatabaseConfig contains the server-side store configuration. An empty DSN
// selects the in-memory store, which is only suitable for local development.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}

// LicenseConfig contains the knobs of the license scheme itself. Secret is
// the HMAC key shared between issuer and client; it is provisioned here and
// never generated or rotated by the application.
type LicenseConfig struct {
	Secret           string        `yaml:"secret" envconfig:"SECRET"`
	TokenTTL         time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	OfflineGraceDays int           `yaml:"offline_grace_days" envconfig:"OFFLINE_GRACE_DAYS"`
	RecheckInterval  time.Duration `yaml:"recheck_interval" envconfig:"RECHECK_INTERVAL"`
}

// OfflineGrace returns the grace window as a duration.
func (c LicenseConfig) OfflineGrace() time.Duration {
	return time.Duration(c.OfflineGraceDays) * 24 * time.Hour
}

// ClientConfig contains client-side verification settings. The timeout is
// deliberately generous to tolerate license-server cold starts.
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url" envconfig:"SERVER_URL"`
	Timeout        time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	RetryAttempts  int           `yaml:"retry_attempts" envconfig:"RETRY_ATTEMPTS"`
	PromptAttempts int           `yaml:"prompt_attempts" envconfig:"PROMPT_ATTEMPTS"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths. DataDir defaults to ~/.popwatch.
type PathsConfig struct {
	DataDir string `yaml:"data_dir" envconfig:"DATA_DIR"`
}

// Default returns the built-in configuration. Defaults live here rather than
// in struct tags so the YAML layer can override them without envconfig
// re-applying tag defaults on top.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     10,
				Burst:   20,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		License: LicenseConfig{
			TokenTTL:         24 * time.Hour,
			OfflineGraceDays: 2,
			RecheckInterval:  time.Hour,
		},
		Client: ClientConfig{
			ServerURL:      "http://127.0.0.1:8080",
			Timeout:        70 * time.Second,
			RetryAttempts:  3,
			PromptAttempts: 3,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/popwatch.log",
		},
	}
}

// Load builds the effective configuration. The YAML file path is taken from
// POPWATCH_CONFIG_FILE and falls back to ./popwatch.yml; a missing file is
// not an error.
func Load() (*Config, error) {
	cfg := Default()

	configFile := os.Getenv("POPWATCH_CONFIG_FILE")
	if configFile == "" {
		configFile = "popwatch.yml"
	}
	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := envconfig.Process("POPWATCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// validate checks invariants shared by server and client.
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.TokenTTL <= 0 {
		return fmt.Errorf("token_ttl must be positive, got %s", c.License.TokenTTL)
	}
	if c.License.OfflineGraceDays < 0 {
		return fmt.Errorf("offline_grace_days must not be negative, got %d", c.License.OfflineGraceDays)
	}
	if c.License.RecheckInterval <= 0 {
		return fmt.Errorf("recheck_interval must be positive, got %s", c.License.RecheckInterval)
	}
	if c.Client.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1, got %d", c.Client.RetryAttempts)
	}
	if c.Client.PromptAttempts < 1 {
		return fmt.Errorf("prompt_attempts must be at least 1, got %d", c.Client.PromptAttempts)
	}
	return nil
}

// RequireSecret fails when no HMAC secret is provisioned. The server refuses
// to start without one; the client refuses to verify.
func (c *Config) RequireSecret() error {
	if c.License.Secret == "" {
		return fmt.Errorf("license secret is not configured (set POPWATCH_LICENSE_SECRET)")
	}
	return nil
}
