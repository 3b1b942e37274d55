package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "bugsync.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "BUGSYNC_PORT")
	setString(&cfg.Bugzilla.BaseURL, "BUGSYNC_BUGZILLA_BASE_URL")
	setString(&cfg.Bugzilla.APIKey, "BUGZILLA_API_KEY")
	setDuration(&cfg.Bugzilla.Timeout, "BUGSYNC_BUGZILLA_TIMEOUT")
	setString(&cfg.Jira.BaseURL, "BUGSYNC_JIRA_BASE_URL")
	setString(&cfg.Jira.Username, "JIRA_USERNAME")
	setString(&cfg.Jira.APIKey, "JIRA_API_KEY")
	setDuration(&cfg.Jira.Timeout, "BUGSYNC_JIRA_TIMEOUT")
	setString(&cfg.Webhook.Token, "BUGSYNC_WEBHOOK_TOKEN")
	setInt(&cfg.Retry.MaxRetries, "BUGSYNC_RETRY_MAX_RETRIES")
	setDuration(&cfg.Retry.InitialInterval, "BUGSYNC_RETRY_INITIAL_INTERVAL")
	setDuration(&cfg.Retry.MaxInterval, "BUGSYNC_RETRY_MAX_INTERVAL")
	setInt(&cfg.Breaker.MaxFailures, "BUGSYNC_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BUGSYNC_BREAKER_TIMEOUT")
	setInt64(&cfg.Cache.MaxSizeMB, "BUGSYNC_CACHE_MAX_SIZE_MB")
	setDuration(&cfg.Cache.MetadataTTL, "BUGSYNC_CACHE_METADATA_TTL")
	setInt64(&cfg.Health.MaxParallel, "BUGSYNC_HEALTH_MAX_PARALLEL")
	setString(&cfg.Logging.Level, "BUGSYNC_LOG_LEVEL")
	setString(&cfg.Logging.Service, "BUGSYNC_LOG_SERVICE")
	setString(&cfg.Actions, "BUGSYNC_ACTIONS_FILE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Bugzilla.BaseURL == "" {
		return errors.New("bugzilla.base_url is required")
	}
	if cfg.Jira.BaseURL == "" {
		return errors.New("jira.base_url is required")
	}
	if cfg.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be >= 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Health.MaxParallel < 1 {
		return errors.New("health.max_parallel must be >= 1")
	}
	if cfg.Actions == "" {
		return errors.New("actions file path is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
