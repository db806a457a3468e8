package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models draftline.yml.
type Config struct {
	Log      LogConfig     `yaml:"log"`
	Server   ServerConfig  `yaml:"server"`
	Cache    CacheConfig   `yaml:"cache"`
	Jobs     JobsConfig    `yaml:"jobs"`
	Webhooks WebhookConfig `yaml:"webhooks"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// CacheConfig enables the redis commit cache when RedisURL is set.
type CacheConfig struct {
	RedisURL   string `yaml:"redis_url"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type JobsConfig struct {
	Workers int `yaml:"workers"`
}

type WebhookConfig struct {
	Enabled        bool     `yaml:"enabled"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		return fmt.Errorf("config.log.level %q is not a log level", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config.log.format must be 'json' or 'console'")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("config.cache.ttl_seconds must not be negative")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("config.jobs.workers must be at least 1")
	}
	if c.Webhooks.Enabled {
		if c.Webhooks.URL == "" {
			return fmt.Errorf("config.webhooks.url is required when webhooks are enabled")
		}
		if c.Webhooks.TimeoutSeconds <= 0 {
			return fmt.Errorf("config.webhooks.timeout_seconds must be positive")
		}
		for _, evt := range c.Webhooks.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks.events contains an empty event type")
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "draftline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `log:
  level: info
  format: console

server:
  addr: 127.0.0.1:8080
  base_path: /v0

cache:
  redis_url: ""
  ttl_seconds: 3600

jobs:
  workers: 4

webhooks:
  enabled: false
  url: ""
  events: [draft.discarded, exploration.migrated]
  secret: ""
  timeout_seconds: 5
`
