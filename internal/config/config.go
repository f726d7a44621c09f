// Package config provides configuration management for the trading agent.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when a key is unset in both the file and the environment.
const (
	defaultBridgeURL      = "http://localhost:8080"
	defaultDefaultLotSize = 0.10
	defaultMinLotSize     = 0.01
	defaultMaxLotSize     = 1.0
	defaultRedisAddr      = "localhost:6379"
	defaultStoragePath    = "positions.json"
	defaultDashboardAddr  = ":8090"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Lots        LotConfig         `yaml:"lots"`
	Redis       RedisConfig       `yaml:"redis"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Security    SecurityConfig    `yaml:"security"`
}

// EnvironmentConfig defines the runtime environment settings.
type EnvironmentConfig struct {
	UserID   string `yaml:"user_id"`
	AgentID  string `yaml:"agent_id"`
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BridgeConfig defines the MT4 bridge endpoint and credentials.
type BridgeConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LotConfig defines the fixed lot-sizing policy.
type LotConfig struct {
	Default float64 `yaml:"default"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// RedisConfig defines the order-cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig defines the position-document store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the ops HTTP endpoint.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// SecurityConfig holds the credential-store key.
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// Load reads the config file, expands environment variables in its values,
// applies MT4_* environment overrides, and validates the result. A missing
// file is not an error; the environment alone can carry a full config.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var config Config
	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if derr := dec.Decode(&config); derr != nil {
			return nil, fmt.Errorf("parsing config: %w", derr)
		}
	case os.IsNotExist(err):
		// Environment-only configuration.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// applyEnv lets MT4_* variables override file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("MT4_BRIDGE_URL"); v != "" {
		c.Bridge.URL = v
	}
	if v := os.Getenv("MT4_BRIDGE_USERNAME"); v != "" {
		c.Bridge.Username = v
	}
	if v := os.Getenv("MT4_BRIDGE_PASSWORD"); v != "" {
		c.Bridge.Password = v
	}
	if v, ok := envFloat("MT4_DEFAULT_LOT_SIZE"); ok {
		c.Lots.Default = v
	}
	if v, ok := envFloat("MT4_MIN_LOT_SIZE"); ok {
		c.Lots.Min = v
	}
	if v, ok := envFloat("MT4_MAX_LOT_SIZE"); ok {
		c.Lots.Max = v
	}
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		c.Security.EncryptionKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (c *Config) applyDefaults() {
	if c.Bridge.URL == "" {
		c.Bridge.URL = defaultBridgeURL
	}
	if c.Lots.Default == 0 {
		c.Lots.Default = defaultDefaultLotSize
	}
	if c.Lots.Min == 0 {
		c.Lots.Min = defaultMinLotSize
	}
	if c.Lots.Max == 0 {
		c.Lots.Max = defaultMaxLotSize
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaultRedisAddr
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Dashboard.Addr == "" {
		c.Dashboard.Addr = defaultDashboardAddr
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.UserID == "" {
		return fmt.Errorf("environment.user_id is required")
	}
	if !strings.HasPrefix(c.Bridge.URL, "http://") && !strings.HasPrefix(c.Bridge.URL, "https://") {
		return fmt.Errorf("bridge.url must be an http(s) URL")
	}
	if c.Lots.Min <= 0 {
		return fmt.Errorf("lots.min must be > 0")
	}
	if c.Lots.Max < c.Lots.Min {
		return fmt.Errorf("lots.max (%.2f) must be >= lots.min (%.2f)", c.Lots.Max, c.Lots.Min)
	}
	if c.Lots.Default < c.Lots.Min || c.Lots.Default > c.Lots.Max {
		return fmt.Errorf("lots.default (%.2f) must be within [%.2f, %.2f]",
			c.Lots.Default, c.Lots.Min, c.Lots.Max)
	}
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug, info, warn, error")
	}
	return nil
}
