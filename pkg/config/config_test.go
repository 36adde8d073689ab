package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/gulfwatch/pkg/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gulfwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":19090", cfg.Server.AdminAddress)
	assert.Equal(t, ":8090", cfg.Server.DataAddress)
	assert.EqualValues(t, 4<<20, cfg.Proxy.MaxBodyBytes)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 64, cfg.Engine.QueueSize)
	assert.Equal(t, "gulfwatch", cfg.Telemetry.ServiceName)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  admin_address: ":9100"
  data_address: ":9200"
proxy:
  upstream: "http://news.example.com:8080"
  max_body_bytes: 1024
watch:
  input: "page.html"
  output: "page.out.html"
  debounce: 250ms
engine:
  max_pending: 16
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  environment: staging
  sample_ratio: 0.25
  headers:
    authorization: "Bearer abc"
  resource_tags:
    team: news
logging:
  level: "DEBUG"
  pretty: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.AdminAddress)
	assert.Equal(t, "http://news.example.com:8080", cfg.Proxy.Upstream)
	assert.EqualValues(t, 1024, cfg.Proxy.MaxBodyBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, 16, cfg.Engine.MaxPending)
	assert.Equal(t, 16, cfg.Engine.MaxRounds)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "staging", cfg.Telemetry.Environment)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	assert.Equal(t, map[string]string{"authorization": "Bearer abc"}, cfg.Telemetry.Headers)
	assert.Equal(t, map[string]string{"team": "news"}, cfg.Telemetry.ResourceTags)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)

	u, err := cfg.Proxy.UpstreamURL()
	require.NoError(t, err)
	assert.Equal(t, "news.example.com:8080", u.Host)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GULFWATCH_UPSTREAM", "https://upstream.internal")
	t.Setenv("GULFWATCH_LOG_LEVEL", "warn")
	t.Setenv("GULFWATCH_MAX_BODY_BYTES", "2048")
	t.Setenv("GULFWATCH_OTLP_INSECURE", "true")
	t.Setenv("GULFWATCH_OTLP_HEADERS", "x-api-key=secret, tenant = news ,broken")
	t.Setenv("GULFWATCH_ENVIRONMENT", "prod")
	t.Setenv("GULFWATCH_SAMPLE_RATIO", "0.5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"x-api-key": "secret", "tenant": "news"}, cfg.Telemetry.Headers)
	assert.Equal(t, "prod", cfg.Telemetry.Environment)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRatio)

	assert.Equal(t, "https://upstream.internal", cfg.Proxy.Upstream)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.EqualValues(t, 2048, cfg.Proxy.MaxBodyBytes)
	assert.True(t, cfg.Telemetry.Insecure)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "log level", content: "logging:\n  level: loud\n"},
		{name: "upstream scheme", content: "proxy:\n  upstream: ftp://example.com\n"},
		{name: "negative body", content: "proxy:\n  max_body_bytes: -1\n"},
		{name: "same watch paths", content: "watch:\n  input: a.html\n  output: a.html\n"},
		{name: "sample ratio", content: "telemetry:\n  sample_ratio: 1.5\n"},
		{name: "address clash", content: "server:\n  admin_address: \":1\"\n  data_address: \":1\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestProxyConfig_UpstreamRequired(t *testing.T) {
	var c ProxyConfig
	_, err := c.UpstreamURL()
	assert.Error(t, err)
}
