package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Notify    NotifyConfig    `yaml:"notify"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains the dispatch loop settings
type SchedulerConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`       // Default: 30s
	MaxAttempts       int           `yaml:"max_attempts"`        // Attempts per dispatch (default: 3)
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"` // First backoff, doubles per attempt (default: 1s)
}

// BreakerConfig contains circuit breaker settings
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`  // Consecutive failures before opening (default: 5)
	OpenDuration time.Duration `yaml:"open_duration"` // Cooldown before a half-open probe (default: 60s)
}

// WhatsAppConfig contains gateway connection settings
type WhatsAppConfig struct {
	BaseURL               string        `yaml:"base_url"`
	Token                 string        `yaml:"token"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`         // Default: 30s
	HealthInterval        time.Duration `yaml:"health_interval"`         // Connectivity probe period (default: 30s)
	ReconnectMaxAttempts  int           `yaml:"reconnect_max_attempts"`  // Per reconnect round (default: 5)
	ReconnectInitialDelay time.Duration `yaml:"reconnect_initial_delay"` // Doubles per attempt (default: 2s)
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"` // Default: 30s
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // Default: 60s
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9090
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// NotifyConfig contains real-time event publishing settings
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RedisAddr string `yaml:"redis_addr"` // Default: localhost:6379
	Channel   string `yaml:"channel"`    // Default: zapline:conversations
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/zapline/zapline.db"
	}

	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = 30 * time.Second
	}
	if c.Scheduler.MaxAttempts == 0 {
		c.Scheduler.MaxAttempts = 3
	}
	if c.Scheduler.RetryInitialDelay == 0 {
		c.Scheduler.RetryInitialDelay = time.Second
	}

	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = 5
	}
	if c.Breaker.OpenDuration == 0 {
		c.Breaker.OpenDuration = 60 * time.Second
	}

	if c.WhatsApp.RequestTimeout == 0 {
		c.WhatsApp.RequestTimeout = 30 * time.Second
	}
	if c.WhatsApp.HealthInterval == 0 {
		c.WhatsApp.HealthInterval = 30 * time.Second
	}
	if c.WhatsApp.ReconnectMaxAttempts == 0 {
		c.WhatsApp.ReconnectMaxAttempts = 5
	}
	if c.WhatsApp.ReconnectInitialDelay == 0 {
		c.WhatsApp.ReconnectInitialDelay = 2 * time.Second
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Notify.RedisAddr == "" {
		c.Notify.RedisAddr = "localhost:6379"
	}
	if c.Notify.Channel == "" {
		c.Notify.Channel = "zapline:conversations"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WhatsApp.BaseURL == "" {
		return fmt.Errorf("whatsapp.base_url is required")
	}

	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler.max_attempts must be at least 1")
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler.tick_interval must be at least 1s")
	}

	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("breaker.max_failures must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
