// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Log     LogConfig               `yaml:"log"`
	Skill   SkillConfig             `yaml:"skill"`
	Gateway GatewayConfig           `yaml:"gateway"`
	Poller  PollerConfig            `yaml:"poller"`
	Admin   AdminConfig             `yaml:"admin"`
	Filters map[string]FilterConfig `yaml:"filters"`
	Catalog CatalogConfig           `yaml:"catalog"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr      string      `yaml:"addr" default:":8080"`
	SkillPath string      `yaml:"skill_path" default:"/skill" validate:"startswith=/"`
	Hooks     HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// LogConfig represents logging configuration. CLI flags take precedence.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
}

// SkillConfig represents the voice platform side of the service.
type SkillConfig struct {
	ApplicationID string `yaml:"application_id" validate:"required"`
	DefaultLocale string `yaml:"default_locale" default:"en-US" validate:"bcp47_language_tag"`
}

// GatewayConfig represents the remote media backend.
type GatewayConfig struct {
	BaseURL         string `yaml:"base_url" validate:"required,url"`
	TimeoutSec      int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=300"`
	DefaultLanguage string `yaml:"default_language" default:"en" validate:"bcp47_language_tag"`
}

// PollerConfig represents download readiness polling.
type PollerConfig struct {
	IntervalMs int `yaml:"interval_ms" default:"2000" validate:"gte=100,lte=60000"`
	TimeoutSec int `yaml:"timeout_sec" validate:"gte=0"` // 0 waits until the request is cancelled
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// CatalogConfig represents response catalog configuration.
type CatalogConfig struct {
	OverridePath string `yaml:"override_path"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SKILL_APPLICATION_ID"); v != "" {
		c.Skill.ApplicationID = v
	}
	if v := os.Getenv("MEDIA_GATEWAY_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GatewayTimeout returns the per-call gateway timeout.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSec) * time.Second
}

// PollInterval returns the readiness poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poller.IntervalMs) * time.Millisecond
}

// PollTimeout returns the readiness wait bound, or 0 for none.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Poller.TimeoutSec) * time.Second
}
