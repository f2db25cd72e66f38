// Command server runs the claudebridge proxy, which accepts Claude Messages
// API requests and serves them from an OpenAI-compatible Chat Completions
// backend.
//
// Configuration is read from a YAML file (-config, CLAUDEBRIDGE_CONFIG,
// ./config.yaml or /etc/claudebridge/config.yaml) and the environment:
//
//	OPENAI_API_KEY     - upstream key used when clients send no sk- key
//	OPENAI_BASE_URL    - Chat Completions base URL (default: https://api.openai.com/v1)
//	ANTHROPIC_API_KEY  - shared secret clients must present (optional)
//	BIG_MODEL          - target for opus-class models (default: gpt-4o)
//	MIDDLE_MODEL       - target for sonnet-class models
//	SMALL_MODEL        - target for haiku-class models
//	HOST, PORT         - listen address (default: 0.0.0.0:8082)
//	LOG_LEVEL          - TRACE, DEBUG, INFO, WARNING, ERROR (default: INFO)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/claudebridge/pkg/auth"
	"github.com/rhuss/claudebridge/pkg/auth/noop"
	"github.com/rhuss/claudebridge/pkg/auth/sharedsecret"
	"github.com/rhuss/claudebridge/pkg/config"
	"github.com/rhuss/claudebridge/pkg/debug"
	"github.com/rhuss/claudebridge/pkg/engine"
	"github.com/rhuss/claudebridge/pkg/modelrouter"
	"github.com/rhuss/claudebridge/pkg/observability"
	"github.com/rhuss/claudebridge/pkg/provider/openaicompat"
	"github.com/rhuss/claudebridge/pkg/telemetry"
	transporthttp "github.com/rhuss/claudebridge/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	shutdownTracing, err := telemetry.Init(context.Background(),
		cfg.Observability.Tracing.ServiceName, cfg.Observability.Tracing.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	if cfg.Upstream.APIKey != "" && !auth.IsUpstreamKey(cfg.Upstream.APIKey) {
		logger.Warn("configured upstream key does not start with " + auth.UpstreamKeyPrefix)
	}

	client := openaicompat.NewClient(openaicompat.Config{
		BaseURL:    cfg.Upstream.BaseURL,
		APIKey:     cfg.Upstream.APIKey,
		APIVersion: cfg.Upstream.APIVersion,
		Timeout:    cfg.Upstream.Timeout,
		MaxRetries: cfg.Upstream.MaxRetries,
	})
	defer client.Close()

	router := modelrouter.New(modelrouter.Tiers{
		Big:    cfg.Models.Big,
		Middle: cfg.Models.Middle,
		Small:  cfg.Models.Small,
	}, modelrouter.WithProviderPrefixes(cfg.Models.PassthroughPrefixes...), modelrouter.WithLogger(logger))

	eng, err := engine.New(client, router, engine.Config{
		MinTokens:    cfg.Tokens.Min,
		MaxTokens:    cfg.Tokens.Max,
		PingInterval: cfg.Streaming.PingInterval,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	authn := authenticator(cfg.Auth.SharedSecret)

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithLogger(logger),
		transporthttp.WithService(serviceInfo(cfg)),
	}
	if cfg.Observability.Metrics.Enabled {
		opts = append(opts,
			transporthttp.WithRoute("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()),
			transporthttp.WithHTTPMiddleware(observability.MetricsMiddleware),
		)
	}
	bypass := append([]string{}, auth.DefaultBypassEndpoints...)
	if cfg.Observability.Metrics.Enabled {
		bypass = append(bypass, cfg.Observability.Metrics.Path)
	}
	opts = append(opts, transporthttp.WithHTTPMiddleware(auth.Middleware(authn, cfg.Upstream.APIKey, bypass)))

	srv := transporthttp.NewServer(transporthttp.Handlers{
		Creator: eng,
		Counter: eng,
		Tester:  eng,
	}, opts...)

	logger.Info("claudebridge configured",
		"addr", cfg.Server.Addr(),
		"base_url", cfg.Upstream.BaseURL,
		"big_model", cfg.Models.Big,
		"middle_model", cfg.Models.Middle,
		"small_model", cfg.Models.Small,
		"client_key_validation", cfg.Auth.SharedSecret != "",
	)

	return srv.ListenAndServe()
}

// authenticator enforces the shared secret when one is configured and lets
// every request through otherwise.
func authenticator(secret string) auth.Authenticator {
	if secret != "" {
		return sharedsecret.New(secret)
	}
	return noop.Authenticator{}
}

// serviceInfo builds the sanitized view served by /health and /.
func serviceInfo(cfg *config.Config) transporthttp.ServiceInfo {
	return transporthttp.ServiceInfo{
		Message:               "Claude-to-OpenAI API Proxy",
		UpstreamKeyConfigured: cfg.Upstream.APIKey != "",
		UpstreamKeyValid:      auth.IsUpstreamKey(cfg.Upstream.APIKey),
		ClientKeyValidation:   cfg.Auth.SharedSecret != "",
		Settings: map[string]any{
			"openai_base_url":       cfg.Upstream.BaseURL,
			"azure_api_version":     cfg.Upstream.APIVersion,
			"big_model":             cfg.Models.Big,
			"middle_model":          cfg.Models.Middle,
			"small_model":           cfg.Models.Small,
			"max_tokens_limit":      cfg.Tokens.Max,
			"min_tokens_limit":      cfg.Tokens.Min,
			"request_timeout":       cfg.Upstream.Timeout.String(),
			"max_retries":           cfg.Upstream.MaxRetries,
			"ping_interval":         cfg.Streaming.PingInterval.String(),
			"api_key_configured":    cfg.Upstream.APIKey != "",
			"client_key_validation": cfg.Auth.SharedSecret != "",
		},
	}
}
