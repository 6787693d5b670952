package config

import (
	"fmt"
	"os"
	"time"

	gaconfig "github.com/JaimeStill/go-agents/pkg/config"
	"github.com/pelletier/go-toml/v2"

	"github.com/crestline/renewals/internal/collections"
	"github.com/crestline/renewals/internal/engine"
	"github.com/crestline/renewals/pkg/database"
	"github.com/crestline/renewals/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvRenewalsEnv             = "RENEWALS_ENV"
	EnvRenewalsShutdownTimeout = "RENEWALS_SHUTDOWN_TIMEOUT"
	EnvRenewalsVersion         = "RENEWALS_VERSION"
)

var databaseEnv = &database.Env{
	Host:            "RENEWALS_DB_HOST",
	Port:            "RENEWALS_DB_PORT",
	Name:            "RENEWALS_DB_NAME",
	User:            "RENEWALS_DB_USER",
	Password:        "RENEWALS_DB_PASSWORD",
	SSLMode:         "RENEWALS_DB_SSL_MODE",
	MaxOpenConns:    "RENEWALS_DB_MAX_OPEN_CONNS",
	MaxIdleConns:    "RENEWALS_DB_MAX_IDLE_CONNS",
	ConnMaxLifetime: "RENEWALS_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "RENEWALS_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	ContainerName:    "RENEWALS_STORAGE_CONTAINER_NAME",
	ConnectionString: "RENEWALS_STORAGE_CONNECTION_STRING",
}

var workflowEnv = &engine.Env{
	Lanes:         "RENEWALS_WORKFLOW_LANES",
	MaxAttempts:   "RENEWALS_WORKFLOW_MAX_ATTEMPTS",
	ResumeWorkers: "RENEWALS_WORKFLOW_RESUME_WORKERS",
}

// Config is the root configuration for the renewals service.
type Config struct {
	Server          ServerConfig         `toml:"server"`
	Database        database.Config      `toml:"database"`
	Storage         storage.Config       `toml:"storage"`
	Collections     collections.Config   `toml:"collections"`
	Workflow        engine.Config        `toml:"workflow"`
	Agent           gaconfig.AgentConfig `toml:"agent"`
	API             APIConfig            `toml:"api"`
	ShutdownTimeout string               `toml:"shutdown_timeout"`
	Version         string               `toml:"version"`
}

// Env returns the RENEWALS_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvRenewalsEnv); env != "" {
		return env
	}
	return "local"
}

// ShutdownTimeoutDuration returns ShutdownTimeout as a time.Duration.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.ShutdownTimeout)
	return d
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.ShutdownTimeout != "" {
		c.ShutdownTimeout = overlay.ShutdownTimeout
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Server.Merge(&overlay.Server)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Collections.Merge(overlay.Collections)
	c.Workflow.Merge(&overlay.Workflow)
	c.Agent.Merge(&overlay.Agent)
	c.API.Merge(&overlay.API)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Server.Finalize(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Database.Finalize(databaseEnv); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Workflow.Finalize(workflowEnv); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := FinalizeAgent(&c.Agent); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.API.Finalize(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	c.Collections.Finalize()
	return nil
}

func (c *Config) loadDefaults() {
	if c.ShutdownTimeout == "" {
		c.ShutdownTimeout = "30s"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvRenewalsShutdownTimeout); v != "" {
		c.ShutdownTimeout = v
	}
	if v := os.Getenv(EnvRenewalsVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvRenewalsEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
