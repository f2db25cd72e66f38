package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/claudebridge/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CLAUDEBRIDGE_CONFIG env, ./config.yaml, /etc/claudebridge/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CLAUDEBRIDGE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/claudebridge/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("CLAUDEBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/claudebridge/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps the proxy's environment variables onto config
// fields. Unset variables leave the field alone; malformed numbers are
// reported.
func applyEnvOverrides(cfg *Config) error {
	strVars := []struct {
		name string
		dst  *string
	}{
		{"OPENAI_API_KEY", &cfg.Upstream.APIKey},
		{"OPENAI_BASE_URL", &cfg.Upstream.BaseURL},
		{"AZURE_API_VERSION", &cfg.Upstream.APIVersion},
		{"ANTHROPIC_API_KEY", &cfg.Auth.SharedSecret},
		{"HOST", &cfg.Server.Host},
		{"LOG_LEVEL", &cfg.Logging.Level},
		{"LOG_FORMAT", &cfg.Logging.Format},
		{"BIG_MODEL", &cfg.Models.Big},
		{"MIDDLE_MODEL", &cfg.Models.Middle},
		{"SMALL_MODEL", &cfg.Models.Small},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Observability.Tracing.OTLPEndpoint},
	}
	for _, v := range strVars {
		if val, ok := os.LookupEnv(v.name); ok && val != "" {
			*v.dst = val
		}
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"PORT", &cfg.Server.Port},
		{"MAX_TOKENS_LIMIT", &cfg.Tokens.Max},
		{"MIN_TOKENS_LIMIT", &cfg.Tokens.Min},
		{"MAX_RETRIES", &cfg.Upstream.MaxRetries},
	}
	for _, v := range intVars {
		val := os.Getenv(v.name)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", v.name, val)
		}
		*v.dst = n
	}

	durVars := []struct {
		name string
		dst  *time.Duration
	}{
		{"REQUEST_TIMEOUT", &cfg.Upstream.Timeout},
		{"PING_INTERVAL", &cfg.Streaming.PingInterval},
	}
	for _, v := range durVars {
		val := os.Getenv(v.name)
		if val == "" {
			continue
		}
		d, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
		*v.dst = d
	}

	return nil
}

// parseSeconds accepts either a bare number of seconds ("90", "2.5") or a
// Go duration ("90s", "1m30s").
func parseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	refs := []struct {
		path  string
		file  string
		value *string
	}{
		{"upstream.api_key_file", cfg.Upstream.APIKeyFile, &cfg.Upstream.APIKey},
		{"auth.shared_secret_file", cfg.Auth.SharedSecretFile, &cfg.Auth.SharedSecret},
	}
	for _, ref := range refs {
		if ref.file == "" || *ref.value != "" {
			continue
		}
		val, err := readSecretFile(ref.file)
		if err != nil {
			return fmt.Errorf("%s: %w", ref.path, err)
		}
		*ref.value = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
