// Package config provides YAML-based configuration loading for stylesync.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvDBDSN     = "STYLESYNC_DB_DSN"
	EnvRemoteURL = "STYLESYNC_REMOTE_URL"
)

// Config is the top-level configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Remote   RemoteConfig   `yaml:"remote"`
	Poller   PollerConfig   `yaml:"poller"`
	Requests RequestsConfig `yaml:"requests"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// StoreConfig selects the durable record backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql or memory
	DSN    string `yaml:"dsn"`
}

// RemoteConfig locates the styling backend.
type RemoteConfig struct {
	BaseURL        string            `yaml:"base_url"`
	Timeout        time.Duration     `yaml:"timeout"`
	Routes         map[string]string `yaml:"routes"`
	UploadEndpoint string            `yaml:"upload_endpoint"`
}

// PollerConfig tunes the foreground status poller.
type PollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	TaskMaxAge time.Duration `yaml:"task_max_age"`
}

// RequestsConfig is the replay policy for persisted requests.
type RequestsConfig struct {
	MaxAge      time.Duration `yaml:"max_age"`
	MaxRetries  int           `yaml:"max_retries"`
	AutoRestore bool          `yaml:"auto_restore"`
}

// UploadsConfig tunes the upload paths.
type UploadsConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	Workers       int           `yaml:"workers"`
}

// ServerConfig holds listen addresses for the UI bridge.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// LogConfig holds the log level name (debug, info, warn, error).
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads a YAML config file from path and returns a validated Config.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Store.DSN = envOrDefault(EnvDBDSN, c.Store.DSN)
	c.Remote.BaseURL = envOrDefault(EnvRemoteURL, c.Remote.BaseURL)
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.DSN == "" && c.Store.Driver == "sqlite" {
		c.Store.DSN = "./data/stylesync.db"
	}
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = "http://127.0.0.1:9000"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 30 * time.Second
	}
	if c.Remote.Routes == nil {
		c.Remote.Routes = map[string]string{
			"recommendation": "/api/recommendations",
			"lookbook":       "/api/lookbooks",
			"chat":           "/api/chat",
			"analyze":        "/api/analyze",
		}
	}
	if c.Remote.UploadEndpoint == "" {
		c.Remote.UploadEndpoint = strings.TrimRight(c.Remote.BaseURL, "/") + "/api/uploads"
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = 3 * time.Second
	}
	if c.Poller.TaskMaxAge == 0 {
		c.Poller.TaskMaxAge = time.Hour
	}
	if c.Requests.MaxAge == 0 {
		c.Requests.MaxAge = 24 * time.Hour
	}
	if c.Requests.MaxRetries == 0 {
		c.Requests.MaxRetries = 3
	}
	if c.Uploads.DrainInterval == 0 {
		c.Uploads.DrainInterval = 15 * time.Minute
	}
	if c.Uploads.Workers == 0 {
		c.Uploads.Workers = 1
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = ":50051"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "mysql":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, mysql, memory", c.Store.Driver))
	}
	if c.Remote.Timeout < 0 {
		errs = append(errs, "remote.timeout must be positive")
	}
	for typ, ep := range c.Remote.Routes {
		if !strings.HasPrefix(ep, "/") {
			errs = append(errs, fmt.Sprintf("remote.routes.%s must start with /", typ))
		}
	}
	if c.Poller.Interval < 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if c.Poller.TaskMaxAge < 0 {
		errs = append(errs, "poller.task_max_age must be positive")
	}
	if c.Requests.MaxAge < 0 {
		errs = append(errs, "requests.max_age must be positive")
	}
	if c.Requests.MaxRetries < 0 {
		errs = append(errs, "requests.max_retries must not be negative")
	}
	if c.Uploads.DrainInterval < time.Minute {
		errs = append(errs, "uploads.drain_interval must be at least 1m")
	}
	if c.Uploads.Workers < 0 {
		errs = append(errs, "uploads.workers must not be negative")
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SlogLevel returns the configured level. Parse has already validated it.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(l.Level))
	return lvl
}

// envOrDefault reads an env variable or returns the fallback.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
