// Package modelrouter maps Claude model names onto upstream model names.
//
// Names are resolved by tier keyword (haiku, sonnet, opus) to configured
// small, middle and big models. Names already in the upstream's own naming
// convention, and names of known third-party providers, pass through.
package modelrouter

import (
	"log/slog"
	"strings"

	"github.com/rhuss/claudebridge/pkg/debug"
)

// DefaultNativePrefixes identify names already in the upstream's naming
// convention.
var DefaultNativePrefixes = []string{"gpt-", "o1-", "o3-", "o4-", "chatgpt-"}

// DefaultProviderPrefixes identify third-party provider model names that
// are forwarded unchanged.
var DefaultProviderPrefixes = []string{"ep-", "doubao-", "deepseek-"}

// DefaultBigModel is used for requests without a model when no big tier is
// configured.
const DefaultBigModel = "gpt-4o"

// Tiers holds the configured upstream model for each tier. An empty tier
// means names routed to it pass through unchanged.
type Tiers struct {
	Big    string
	Middle string
	Small  string
}

// Router resolves requested model names. It is immutable after construction
// and safe for concurrent use.
type Router struct {
	tiers    Tiers
	prefixes []string
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithProviderPrefixes adds passthrough prefixes to the defaults.
func WithProviderPrefixes(prefixes ...string) Option {
	return func(r *Router) {
		for _, p := range prefixes {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				r.prefixes = append(r.prefixes, p)
			}
		}
	}
}

// WithLogger sets the logger used for resolution warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router for the given tiers.
func New(tiers Tiers, opts ...Option) *Router {
	r := &Router{
		tiers:  tiers,
		logger: slog.Default(),
	}
	r.prefixes = append(r.prefixes, DefaultNativePrefixes...)
	r.prefixes = append(r.prefixes, DefaultProviderPrefixes...)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tiers returns the configured tiers.
func (r *Router) Tiers() Tiers {
	return r.tiers
}

// Resolve maps a requested model name to the upstream model name. It never
// fails: when no rule produces a configured model, the requested name is
// returned unchanged.
func (r *Router) Resolve(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		big := r.tiers.Big
		if big == "" {
			big = DefaultBigModel
		}
		r.logger.Warn("request has no model, using big model", "model", big)
		return big
	}

	lower := strings.ToLower(trimmed)

	for _, p := range r.prefixes {
		if strings.HasPrefix(lower, p) {
			debug.Log("translate", "model passthrough", "model", name, "prefix", p)
			return name
		}
	}

	var target string
	switch {
	case strings.Contains(lower, "haiku"):
		target = r.tiers.Small
	case strings.Contains(lower, "sonnet"):
		target = r.tiers.Middle
	case strings.Contains(lower, "opus"):
		target = r.tiers.Big
	default:
		target = r.tiers.Big
	}

	if target == "" {
		debug.Log("translate", "tier not configured, passthrough", "model", name)
		return name
	}

	debug.Log("translate", "model resolved", "from", name, "to", target)
	return target
}
