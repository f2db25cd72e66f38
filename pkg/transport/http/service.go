package http

import (
	"net/http"
	"time"

	"github.com/rhuss/claudebridge/pkg/transport"
)

// ServiceInfo describes the running proxy for the informational endpoints.
type ServiceInfo struct {
	// Message is the service banner returned by GET /.
	Message string

	// UpstreamKeyConfigured reports whether a server-side upstream key is set.
	UpstreamKeyConfigured bool

	// UpstreamKeyValid reports whether that key has the expected prefix.
	UpstreamKeyValid bool

	// ClientKeyValidation reports whether a shared secret is enforced.
	ClientKeyValidation bool

	// Settings is a sanitized view of the configuration. It must not
	// contain secrets.
	Settings map[string]any
}

var connectionSuggestions = []string{
	"Check your OpenAI API key is valid",
	"Verify your API key has the necessary permissions",
	"Check if you have reached rate limits",
}

func now() string {
	return time.Now().Format(time.RFC3339)
}

// handleHealth handles GET /health.
func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	svc := a.config.Service
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                    "healthy",
		"timestamp":                 now(),
		"openai_api_configured":     svc.UpstreamKeyConfigured,
		"api_key_valid":             svc.UpstreamKeyConfigured && svc.UpstreamKeyValid,
		"client_api_key_validation": svc.ClientKeyValidation,
	})
}

// handleTestConnection handles GET /test-connection.
func (a *Adapter) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	if a.tester == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "failed",
			"error_type":  "not_configured",
			"message":     "connection testing is not available",
			"timestamp":   now(),
			"suggestions": connectionSuggestions,
		})
		return
	}

	report, err := a.tester.TestConnection(r.Context())
	if err != nil {
		apiErr := transport.APIErrorFrom(err)
		a.logger.Error("upstream connectivity test failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "failed",
			"error_type":  apiErr.Type,
			"message":     apiErr.Message,
			"timestamp":   now(),
			"suggestions": connectionSuggestions,
		})
		return
	}

	responseID := report.ResponseID
	if responseID == "" {
		responseID = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"message":     "Successfully connected to the upstream API",
		"model_used":  report.Model,
		"timestamp":   now(),
		"response_id": responseID,
	})
}

// handleRoot handles GET /.
func (a *Adapter) handleRoot(w http.ResponseWriter, _ *http.Request) {
	svc := a.config.Service
	message := svc.Message
	if message == "" {
		message = "Claude-to-OpenAI API Proxy"
	}
	settings := svc.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"status":  "running",
		"config":  settings,
		"endpoints": map[string]string{
			"messages":        "/v1/messages",
			"count_tokens":    "/v1/messages/count_tokens",
			"health":          "/health",
			"test_connection": "/test-connection",
		},
	})
}
