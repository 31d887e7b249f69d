package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "taskpulse.yml"

// Config models taskpulse.yml.
type Config struct {
	Server struct {
		Addr            string `yaml:"addr"`
		BasePath        string `yaml:"base_path"`
		AllowUserHeader bool   `yaml:"allow_user_header"`
	} `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tasks    struct {
		DefaultDepartment string   `yaml:"default_department"`
		Timezone          string   `yaml:"timezone"`
		PrivilegedRoles   []string `yaml:"privileged_roles"`
		PageSize          int      `yaml:"page_size"`
	} `yaml:"tasks"`
	Realtime struct {
		Enabled   bool `yaml:"enabled"`
		QueueSize int  `yaml:"queue_size"`
	} `yaml:"realtime"`
	Webhooks        []WebhookConfig `yaml:"webhooks"`
	WebhookSchedule string          `yaml:"webhook_schedule"`
	Slack           SlackConfig     `yaml:"slack"`
	Log             LogConfig       `yaml:"log"`
	Users           []UserSeed      `yaml:"users"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	APIURL  string `yaml:"api_url"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// UserSeed is a directory entry created on startup when missing.
type UserSeed struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	DepartmentID string `yaml:"department_id"`
	Role         string `yaml:"role"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	if !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := time.LoadLocation(c.Tasks.Timezone); err != nil {
		return fmt.Errorf("config.tasks.timezone: %w", err)
	}
	if len(c.Tasks.PrivilegedRoles) == 0 {
		return fmt.Errorf("config.tasks.privileged_roles is required")
	}
	for _, role := range c.Tasks.PrivilegedRoles {
		if strings.TrimSpace(role) == "" {
			return fmt.Errorf("config.tasks.privileged_roles contains empty role")
		}
	}
	if c.Tasks.PageSize < 0 || c.Tasks.PageSize > 100 {
		return fmt.Errorf("config.tasks.page_size must be between 0 and 100")
	}
	if c.Realtime.QueueSize < 0 {
		return fmt.Errorf("config.realtime.queue_size must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	if c.Slack.Token != "" && c.Slack.Channel == "" {
		return fmt.Errorf("config.slack.channel is required when a slack token is set")
	}
	switch c.Log.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("config.log.env must be local, dev or prod")
	}
	seen := map[string]bool{}
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("config.users contains entry without id")
		}
		if seen[u.ID] {
			return fmt.Errorf("config.users has duplicate id %s", u.ID)
		}
		seen[u.ID] = true
	}
	return nil
}

// Location returns the zone used to decide what "today" means for daily tasks.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tasks.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads the workspace config, falling back to defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config on top of the defaults and validates it.
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

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  allow_user_header: false

database:
  driver: sqlite
  dsn: ""

tasks:
  default_department: ""
  timezone: UTC
  privileged_roles: [admin, manager]
  page_size: 10

realtime:
  enabled: true
  queue_size: 256

webhook_schedule: "@every 2s"

log:
  env: local
  level: ""
  file: ""
`
