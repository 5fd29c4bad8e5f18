package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"constructlink/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Notify     NotifyConfig     `yaml:"notify"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	// Driver is one of sqlite3, pgx or postgres.
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	MaxConnections int    `yaml:"max_connections"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey binds an API key to the actor it authenticates.
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	ActorID     int64    `yaml:"actor_id"`
	Role        string   `yaml:"role"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// SubmissionsPerMinute caps workflow writes per actor, tracked in Redis when available.
	SubmissionsPerMinute int `yaml:"submissions_per_minute"`
}

type WorkflowConfig struct {
	// AuditPreview is how many recent audit entries a snapshot carries.
	AuditPreview        int                `yaml:"audit_preview"`
	OverdueScanInterval string             `yaml:"overdue_scan_interval"`
	Permissions         []PermissionConfig `yaml:"permissions"`
}

// PermissionConfig is one row of the authorization table.
// An empty From list allows every valid pre-state of the transition.
type PermissionConfig struct {
	Transition string   `yaml:"transition"`
	Roles      []string `yaml:"roles"`
	From       []string `yaml:"from"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Retry    RetryConfig    `yaml:"retry"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries"`
	InitialDelay  string  `yaml:"initial_delay"`
	MaxDelay      string  `yaml:"max_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; variables may come from the environment directly.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite3")
		}
	case "pgx", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Notify.Telegram.Enabled && c.Notify.Telegram.BotToken == "" {
		return errors.New("notify.telegram.bot_token is required when telegram is enabled")
	}

	if err := ValidateAPIKeys(c.API.Auth.APIKeys); err != nil {
		return err
	}
	return ValidatePermissions(c.Workflow.Permissions)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key for %q is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for %q", k.Name)
		}
		seen[k.Key] = true
		if k.ActorID == 0 {
			return fmt.Errorf("api key %q has invalid actor_id 0", k.Name)
		}
		if _, err := models.ParseRole(k.Role); err != nil {
			return fmt.Errorf("api key %q: %w", k.Name, err)
		}
	}
	return nil
}

func ValidatePermissions(perms []PermissionConfig) error {
	for i, p := range perms {
		if _, err := models.ParseTransition(p.Transition); err != nil {
			return fmt.Errorf("workflow.permissions[%d]: %w", i, err)
		}
		if len(p.Roles) == 0 {
			return fmt.Errorf("workflow.permissions[%d]: roles are required", i)
		}
		for _, r := range p.Roles {
			if _, err := models.ParseRole(r); err != nil {
				return fmt.Errorf("workflow.permissions[%d]: %w", i, err)
			}
		}
		for _, s := range p.From {
			st, err := models.ParseStatus(s)
			if err != nil {
				return fmt.Errorf("workflow.permissions[%d]: %w", i, err)
			}
			if !st.Stored() {
				return fmt.Errorf("workflow.permissions[%d]: %q is not a stored status", i, s)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "constructlink-borrowing"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.RateLimit.SubmissionsPerMinute == 0 {
		c.API.RateLimit.SubmissionsPerMinute = 30
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Workflow.AuditPreview == 0 {
		c.Workflow.AuditPreview = 10
	}
	if c.Workflow.OverdueScanInterval == "" {
		c.Workflow.OverdueScanInterval = "1h"
	}
	if c.Notify.Retry.MaxRetries == 0 {
		c.Notify.Retry.MaxRetries = 5
	}
}
