// Package render provides the headless browser fallback used when a page
// is blocked or answers with a non-success status.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/masahif/pageprobe/internal/config"
)

// ErrRendererUnavailable is returned by Render when no browser can be used
var ErrRendererUnavailable = errors.New("browser renderer not available")

// exitGrace bounds how long teardown waits for the browser process to exit
const exitGrace = 5 * time.Second

// BrowserRenderer renders pages in a fresh headless Chrome per call.
// Nothing is shared between renders: each call launches its own process
// with a temporary profile and tears it down before returning.
type BrowserRenderer struct {
	cfg       config.BrowserConfig
	userAgent string
	bin       string
	available bool
}

// NewBrowserRenderer resolves the browser binary once. The renderer is
// available only when enabled and a binary was found; no browser is
// ever downloaded.
func NewBrowserRenderer(cfg config.BrowserConfig, userAgent string) *BrowserRenderer {
	r := &BrowserRenderer{
		cfg:       cfg,
		userAgent: userAgent,
	}

	if !cfg.Enabled {
		slog.Debug("Browser fallback disabled")
		return r
	}

	bin, ok := findBrowser(cfg.Bin)
	if !ok {
		slog.Warn("Browser fallback unavailable, no Chrome binary found", "configured_bin", cfg.Bin)
		return r
	}

	r.bin = bin
	r.available = true
	slog.Debug("Browser fallback available", "bin", bin)
	return r
}

// findBrowser returns the configured binary when it resolves, otherwise
// the first browser found on the system
func findBrowser(configured string) (string, bool) {
	if configured != "" {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", false
		}
		return path, true
	}
	return launcher.LookPath()
}

// Available reports whether Render can launch a browser. It never changes
// after construction.
func (r *BrowserRenderer) Available() bool {
	return r.available
}

// Bin returns the resolved browser binary, empty when unavailable
func (r *BrowserRenderer) Bin() string {
	return r.bin
}

// Render navigates to url, waits for load plus the settle delay and returns
// the rendered markup. The browser and its profile are released on every
// exit path; driver panics are returned as errors.
func (r *BrowserRenderer) Render(ctx context.Context, url string) (html string, err error) {
	if !r.available {
		return "", ErrRendererUnavailable
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("browser render panicked: %v", rec)
		}
	}()

	if r.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.NavigationTimeout)
		defer cancel()
	}

	l := r.newLauncher(ctx)
	controlURL, err := l.Launch()
	if err != nil {
		// No process is left to wait for, only the profile directory
		removeProfile(l)
		return "", fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		release(l, nil, exitGrace)
		return "", fmt.Errorf("failed to connect to browser: %w", err)
	}
	defer func() {
		release(l, browser.Timeout(exitGrace), exitGrace)
	}()

	page, err := r.newPage(browser)
	if err != nil {
		return "", fmt.Errorf("failed to open page: %w", err)
	}

	start := time.Now()
	if err := page.Navigate(url); err != nil {
		return "", fmt.Errorf("navigation failed: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", fmt.Errorf("waiting for load failed: %w", err)
	}

	if err := settle(ctx, r.cfg.SettleDelay); err != nil {
		return "", err
	}

	html, err = page.HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read rendered HTML: %w", err)
	}

	slog.Debug("Rendered page", "url", url, "bytes", len(html), "duration", time.Since(start).String())
	return html, nil
}

func (r *BrowserRenderer) newLauncher(ctx context.Context) *launcher.Launcher {
	l := launcher.New().
		Context(ctx).
		Bin(r.bin).
		Headless(r.cfg.Headless).
		NoSandbox(r.cfg.NoSandbox).
		Set(flags.Flag("disable-gpu")).
		Set(flags.Flag("disable-dev-shm-usage"))

	if r.userAgent != "" {
		l = l.Set(flags.Flag("user-agent"), r.userAgent)
	}
	return l
}

func (r *BrowserRenderer) newPage(browser *rod.Browser) (*rod.Page, error) {
	if r.cfg.Stealth {
		return stealth.Page(browser)
	}
	return browser.Page(proto.TargetCreateTarget{})
}

// browserProcess is the part of *launcher.Launcher used for teardown
type browserProcess interface {
	Kill()
	Cleanup()
}

type browserCloser interface {
	Close() error
}

var (
	_ browserProcess = (*launcher.Launcher)(nil)
	_ browserCloser  = (*rod.Browser)(nil)
)

// release shuts the browser down and removes its profile. Kill sleeps for a
// second before signalling, so it is only used when the graceful close fails
// or the process outlives grace.
func release(proc browserProcess, browser browserCloser, grace time.Duration) {
	if browser == nil {
		proc.Kill()
	} else if err := browser.Close(); err != nil {
		slog.Debug("Browser close failed", "error", err)
		proc.Kill()
	}

	done := make(chan struct{})
	go func() {
		proc.Cleanup()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		proc.Kill()
		<-done
	}
}

func removeProfile(l *launcher.Launcher) {
	if dir := l.Get(flags.UserDataDir); dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			slog.Debug("Failed to remove browser profile", "dir", dir, "error", err)
		}
	}
}

// settle waits for client-side rendering to finish, or for cancellation
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
