// Package config provides hierarchical configuration loading for bugsync.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the bugsync service.
type Config struct {
	Server   Server   `yaml:"server"`
	Bugzilla Bugzilla `yaml:"bugzilla"`
	Jira     Jira     `yaml:"jira"`
	Webhook  Webhook  `yaml:"webhook"`
	Retry    Retry    `yaml:"retry"`
	Breaker  Breaker  `yaml:"breaker"`
	Cache    Cache    `yaml:"cache"`
	Health   Health   `yaml:"health"`
	Logging  Logging  `yaml:"logging"`
	Actions  string   `yaml:"actions"` // path to the actions YAML file
}

// Server holds HTTP server configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Bugzilla holds source-tracker connection configuration.
type Bugzilla struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Jira holds target-tracker connection configuration.
type Jira struct {
	BaseURL  string        `yaml:"base_url"`
	Username string        `yaml:"username"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Webhook holds inbound webhook authentication configuration.
type Webhook struct {
	Token string `yaml:"token"`
}

// Retry bounds the retry loop around every remote call.
type Retry struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the Jira project-metadata cache configuration.
type Cache struct {
	MaxSizeMB   int64         `yaml:"max_size_mb"`
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
}

// Health holds capability verification configuration.
type Health struct {
	MaxParallel int64 `yaml:"max_parallel"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: Server{
			Port: "8000",
		},
		Bugzilla: Bugzilla{
			Timeout: 10 * time.Second,
		},
		Jira: Jira{
			Timeout: 10 * time.Second,
		},
		Retry: Retry{
			MaxRetries:      4,
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB:   16,
			MetadataTTL: 5 * time.Minute,
		},
		Health: Health{
			MaxParallel: 4,
		},
		Logging: Logging{
			Level:   "info",
			Service: "bugsync",
		},
		Actions: "actions.yaml",
	}
}
