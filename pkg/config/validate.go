package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rhuss/claudebridge/pkg/debug"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url must be an absolute URL, got %q", c.Upstream.BaseURL))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be > 0, got %v", c.Upstream.Timeout))
	}
	if c.Upstream.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("upstream.max_retries must be >= 0, got %d", c.Upstream.MaxRetries))
	}

	if strings.TrimSpace(c.Models.Big) == "" {
		errs = append(errs, fmt.Errorf("models.big must not be empty"))
	}

	if c.Tokens.Min < 0 || c.Tokens.Max < 0 {
		errs = append(errs, fmt.Errorf("tokens.min and tokens.max must be >= 0"))
	}
	if c.Tokens.Min > 0 && c.Tokens.Max > 0 && c.Tokens.Min > c.Tokens.Max {
		errs = append(errs, fmt.Errorf("tokens.min (%d) must not exceed tokens.max (%d)", c.Tokens.Min, c.Tokens.Max))
	}

	if c.Streaming.PingInterval < 0 {
		errs = append(errs, fmt.Errorf("streaming.ping_interval must be >= 0, got %v", c.Streaming.PingInterval))
	}

	if !debug.KnownLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level %q is not a known level", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path))
	}

	return errors.Join(errs...)
}
