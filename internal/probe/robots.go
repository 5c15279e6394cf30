package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/temoto/robotstxt"
)

// RobotsGate checks robots.txt for every URL. Rules are fetched per call
// and never cached across URLs.
type RobotsGate struct {
	fetcher   Fetcher
	userAgent string
}

// NewRobotsGate creates a gate that fetches robots.txt with the given fetcher
// and tests paths against userAgent
func NewRobotsGate(fetcher Fetcher, userAgent string) *RobotsGate {
	return &RobotsGate{
		fetcher:   fetcher,
		userAgent: userAgent,
	}
}

// Check returns Denied only when robots.txt was read and forbids the path.
// Any failure to obtain or interpret the file yields Unknown.
func (g *RobotsGate) Check(ctx context.Context, rawURL string) Decision {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("robots.txt check skipped for unparseable URL", "url", rawURL)
		return Unknown
	}

	robotsURL := robotsLocation(parsedURL)
	resp, err := g.fetcher.Get(ctx, robotsURL)
	if err != nil {
		slog.Warn("robots.txt fetch failed", "url", robotsURL, "error", err)
		return Unknown
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		slog.Debug("robots.txt access restricted", "url", robotsURL, "status", resp.StatusCode)
		return Denied
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Allowed
	case resp.StatusCode != http.StatusOK:
		slog.Warn("robots.txt unexpected status", "url", robotsURL, "status", resp.StatusCode)
		return Unknown
	}

	robots, err := robotstxt.FromBytes(resp.Body)
	if err != nil {
		slog.Warn("robots.txt unreadable", "url", robotsURL, "error", err)
		return Unknown
	}

	if robots.TestAgent(parsedURL.RequestURI(), g.userAgent) {
		return Allowed
	}

	slog.Debug("robots.txt denies URL", "url", rawURL, "status", resp.StatusCode)
	return Denied
}

// robotsLocation returns the robots.txt URL at the origin of u
func robotsLocation(u *url.URL) string {
	return fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)
}

// AllowAllGate permits every URL. Used when robots checks are turned off.
type AllowAllGate struct{}

// Check always returns Allowed
func (AllowAllGate) Check(context.Context, string) Decision {
	return Allowed
}
