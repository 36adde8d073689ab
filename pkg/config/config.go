// Package config provides configuration structures and loading logic for gulfwatch.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/gulfwatch/pkg/domain"
)

const (
	defaultAdminAddress = ":19090"
	defaultDataAddress  = ":8090"
	defaultMaxBodyBytes = 4 << 20
	defaultDebounce     = 100 * time.Millisecond
	defaultQueueSize    = 64
	defaultMaxRounds    = 16
	defaultMaxPending   = 1024
	defaultServiceName  = "gulfwatch"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Watch     WatchConfig     `yaml:"watch"`
	Engine    EngineConfig    `yaml:"engine"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
	DataAddress  string `yaml:"data_address"`
}

// ProxyConfig holds configuration for the rewriting reverse proxy.
type ProxyConfig struct {
	Upstream     string `yaml:"upstream"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// WatchConfig holds configuration for the file watcher.
type WatchConfig struct {
	Input    string        `yaml:"input"`
	Output   string        `yaml:"output"`
	Debounce time.Duration `yaml:"debounce"`
}

// EngineConfig bounds the host loop and the mutation feed.
type EngineConfig struct {
	QueueSize  int `yaml:"queue_size"`
	MaxRounds  int `yaml:"max_rounds"`
	MaxPending int `yaml:"max_pending"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Headers      map[string]string `yaml:"headers"`
	ResourceTags map[string]string `yaml:"resource_tags"`
	SampleRatio  float64           `yaml:"sample_ratio"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AdminAddress: defaultAdminAddress,
			DataAddress:  defaultDataAddress,
		},
		Proxy: ProxyConfig{MaxBodyBytes: defaultMaxBodyBytes},
		Watch: WatchConfig{Debounce: defaultDebounce},
		Engine: EngineConfig{
			QueueSize:  defaultQueueSize,
			MaxRounds:  defaultMaxRounds,
			MaxPending: defaultMaxPending,
		},
		Telemetry: TelemetryConfig{ServiceName: defaultServiceName},
		Logging:   LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
// An empty path yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("GULFWATCH_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("GULFWATCH_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}

	if val := os.Getenv("GULFWATCH_UPSTREAM"); val != "" {
		cfg.Proxy.Upstream = val
	}
	if val := os.Getenv("GULFWATCH_MAX_BODY_BYTES"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			cfg.Proxy.MaxBodyBytes = n
		}
	}

	if val := os.Getenv("GULFWATCH_WATCH_INPUT"); val != "" {
		cfg.Watch.Input = val
	}
	if val := os.Getenv("GULFWATCH_WATCH_OUTPUT"); val != "" {
		cfg.Watch.Output = val
	}

	if val := os.Getenv("GULFWATCH_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("GULFWATCH_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("GULFWATCH_OTLP_HEADERS"); val != "" {
		cfg.Telemetry.Headers = parseKeyValues(val)
	}
	if val := os.Getenv("GULFWATCH_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}
	if val := os.Getenv("GULFWATCH_SAMPLE_RATIO"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Telemetry.SampleRatio = f
		}
	}

	if val := os.Getenv("GULFWATCH_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate performs validation of the entire configuration, filling zero values with defaults.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("%w: server configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Proxy.Validate(); err != nil {
		return fmt.Errorf("%w: proxy configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("%w: watch configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: engine configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry configuration: %w", domain.ErrConfigInvalid, err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: logging configuration: %w", domain.ErrConfigInvalid, err)
	}
	return nil
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = defaultAdminAddress
	}
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = defaultDataAddress
	}
	if c.AdminAddress == c.DataAddress {
		return fmt.Errorf("admin_address and data_address must differ, both are %q", c.AdminAddress)
	}
	return nil
}

// Validate performs validation of proxy configuration. The upstream is
// optional here; the proxy command requires it through UpstreamURL.
func (c *ProxyConfig) Validate() error {
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max_body_bytes must not be negative, got %d", c.MaxBodyBytes)
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if strings.TrimSpace(c.Upstream) == "" {
		return nil
	}
	_, err := c.UpstreamURL()
	return err
}

// UpstreamURL parses the upstream address.
func (c *ProxyConfig) UpstreamURL() (*url.URL, error) {
	raw := strings.TrimSpace(c.Upstream)
	if raw == "" {
		return nil, fmt.Errorf("upstream is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream %q has no host", raw)
	}
	return u, nil
}

// Validate performs validation of watch configuration.
func (c *WatchConfig) Validate() error {
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", c.Debounce)
	}
	if c.Debounce == 0 {
		c.Debounce = defaultDebounce
	}
	if c.Input != "" && c.Input == c.Output {
		return fmt.Errorf("input and output must be different files")
	}
	return nil
}

// Validate performs validation of engine configuration.
func (c *EngineConfig) Validate() error {
	if c.QueueSize < 0 || c.MaxRounds < 0 || c.MaxPending < 0 {
		return fmt.Errorf("engine bounds must not be negative")
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxRounds == 0 {
		c.MaxRounds = defaultMaxRounds
	}
	if c.MaxPending == 0 {
		c.MaxPending = defaultMaxPending
	}
	return nil
}

// Validate performs validation of telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaultServiceName
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

// parseKeyValues reads "k1=v1,k2=v2" pairs, skipping malformed entries.
func parseKeyValues(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		out[key] = strings.TrimSpace(val)
	}
	return out
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
