// Package config provides configuration loading for eventd.
package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/eventd/internal/fetch"
	"github.com/fyrsmithlabs/eventd/internal/gateway"
	"github.com/fyrsmithlabs/eventd/internal/logging"
	"github.com/fyrsmithlabs/eventd/internal/route"
	"github.com/fyrsmithlabs/eventd/internal/store"
	"github.com/fyrsmithlabs/eventd/internal/telemetry"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "EVENTD_"
)

// Config is the full eventd configuration tree.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Gateway   gateway.Config   `koanf:"gateway"`
	Fetch     fetch.Config     `koanf:"fetch"`
	Store     store.Config     `koanf:"store"`
	Router    route.Thresholds `koanf:"router"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string `koanf:"host"`
	Port            int    `koanf:"port"`
	ShutdownTimeout int    `koanf:"shutdown_timeout"` // seconds
}

// Load reads configuration from the YAML file at configPath (skipped when
// empty or missing), then overrides with EVENTD_-prefixed environment
// variables, then applies defaults and validates.
//
// Environment variables map section and field through the first
// underscore: EVENTD_GATEWAY_API_KEY -> gateway.api_key.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := loadFile(k, configPath); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// EVENTD_GATEWAY_API_KEY -> gateway.api_key: split on the first
		// underscore only, keeping underscores inside field names.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFile reads the YAML file through an already-open descriptor so the
// permission and size checks cannot race against a swap of the file.
func loadFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// validateConfigFileProperties checks permissions and size. The file may
// hold gateway API keys, so world-readable permissions are rejected.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10
	}

	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "disabled"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "eventd.db"
	}

	if cfg.Router.AutoPersist == 0 && cfg.Router.Review == 0 {
		cfg.Router = route.DefaultThresholds()
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	defaults := telemetry.NewDefaultConfig()
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = defaults.Endpoint
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = defaults.Protocol
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = defaults.ServiceName
	}
	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = defaults.ServiceVersion
	}
	if cfg.Telemetry.Sampling.Rate == 0 {
		cfg.Telemetry.Sampling = defaults.Sampling
	}
	if cfg.Telemetry.Metrics.ExportIntervalSecs == 0 {
		cfg.Telemetry.Metrics.ExportIntervalSecs = defaults.Metrics.ExportIntervalSecs
	}
	if cfg.Telemetry.ShutdownSecs == 0 {
		cfg.Telemetry.ShutdownSecs = defaults.ShutdownSecs
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Gateway.Provider {
	case "disabled", "anthropic", "openai":
	default:
		return fmt.Errorf("invalid gateway provider: %s", c.Gateway.Provider)
	}
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("invalid router thresholds: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}
