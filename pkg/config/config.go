// Package config provides unified configuration for the claudebridge proxy.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides (OPENAI_API_KEY, BIG_MODEL, ...)
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all configuration for the proxy.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Models        ModelsConfig        `yaml:"models"`
	Tokens        TokensConfig        `yaml:"tokens"`
	Streaming     StreamingConfig     `yaml:"streaming"`
	Auth          AuthConfig          `yaml:"auth"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`             // default: "0.0.0.0"
	Port            int           `yaml:"port"`             // default: 8082
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MB
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// UpstreamConfig holds the OpenAI-compatible backend settings.
type UpstreamConfig struct {
	BaseURL    string        `yaml:"base_url"`     // default: https://api.openai.com/v1
	APIKey     string        `yaml:"api_key"`      // optional when clients send sk- keys
	APIKeyFile string        `yaml:"api_key_file"` // _file variant for api_key
	APIVersion string        `yaml:"api_version"`  // Azure api-version, optional
	Timeout    time.Duration `yaml:"timeout"`      // default: 90s
	MaxRetries int           `yaml:"max_retries"`  // default: 2
}

// ModelsConfig holds the model tier targets. An empty tier passes the
// requested model through unchanged.
type ModelsConfig struct {
	Big    string `yaml:"big"`    // default: gpt-4o
	Middle string `yaml:"middle"` // optional
	Small  string `yaml:"small"`  // optional

	// PassthroughPrefixes extends the provider prefixes that bypass tier
	// mapping.
	PassthroughPrefixes []string `yaml:"passthrough_prefixes"`
}

// TokensConfig holds the max_tokens clamp window. Zero means unbounded.
type TokensConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// StreamingConfig holds SSE settings.
type StreamingConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"` // default: 15s, 0 disables
}

// AuthConfig holds client authentication settings.
type AuthConfig struct {
	SharedSecret     string `yaml:"shared_secret"`      // optional
	SharedSecretFile string `yaml:"shared_secret_file"` // _file variant for shared_secret
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: INFO
	Format string `yaml:"format"` // "text" or "json", default: text
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// TracingConfig holds OpenTelemetry settings. Tracing is off while
// OTLPEndpoint is empty.
type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"` // default: claudebridge
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8082,
			MaxBodySize:     10 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			BaseURL:    "https://api.openai.com/v1",
			Timeout:    90 * time.Second,
			MaxRetries: 2,
		},
		Models: ModelsConfig{
			Big: "gpt-4o",
		},
		Streaming: StreamingConfig{
			PingInterval: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName: "claudebridge",
			},
		},
	}
}
