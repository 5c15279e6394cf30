package probe

import (
	"strings"

	"github.com/masahif/pageprobe/internal/config"
)

// TickerEndpoint rewrites placeholder market-data URLs to the real endpoint.
// Only the request target changes; the result keeps the input URL.
type TickerEndpoint struct {
	hostMarker  string
	placeholder string
	endpoint    string
}

// NewTickerEndpoint creates a rewriter from configuration
func NewTickerEndpoint(cfg config.TickerConfig) *TickerEndpoint {
	return &TickerEndpoint{
		hostMarker:  cfg.HostMarker,
		placeholder: cfg.Placeholder,
		endpoint:    cfg.Endpoint,
	}
}

// Matches reports whether the URL takes the ticker path
func (t *TickerEndpoint) Matches(url string) bool {
	return t != nil && t.hostMarker != "" && strings.Contains(url, t.hostMarker)
}

// Target returns the URL to request. A ticker URL holding the placeholder
// is replaced by the configured endpoint as a whole; any other URL passes
// through unchanged.
func (t *TickerEndpoint) Target(url string) string {
	if !t.Matches(url) || t.placeholder == "" || t.endpoint == "" {
		return url
	}
	if !strings.Contains(url, t.placeholder) {
		return url
	}
	return t.endpoint
}
