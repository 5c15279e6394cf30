// Package config provides configuration management for the probe.
// It defines configuration structures and default values for fetching,
// rendering, reporting and logging.
package config

import (
	"os"
	"strings"
	"time"
)

// DefaultUserAgent is the identity sent with every request and by the browser fallback.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/115.0 Safari/537.36"

// Supported fetch transports
const (
	TransportStandard   = "standard"
	TransportChromeTLS  = "chrome-tls"
	TransportCloudflare = "cloudflare"
)

// BearerAuth contains the optional API credential
type BearerAuth struct {
	Token    string `mapstructure:"token" yaml:"token"`         // Literal token (prefer token_env)
	TokenEnv string `mapstructure:"token_env" yaml:"token_env"` // Environment variable holding the token
}

// Auth contains authentication configuration
type Auth struct {
	Bearer *BearerAuth `mapstructure:"bearer" yaml:"bearer"`
}

// BrowserConfig controls the headless browser fallback
type BrowserConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`                       // Allow fallback renders at all
	Bin               string        `mapstructure:"bin" yaml:"bin"`                               // Chrome/Chromium binary, looked up when empty
	Headless          bool          `mapstructure:"headless" yaml:"headless"`                     // Run without a window
	NoSandbox         bool          `mapstructure:"no_sandbox" yaml:"no_sandbox"`                 // Needed inside most containers
	Stealth           bool          `mapstructure:"stealth" yaml:"stealth"`                       // Inject go-rod/stealth before navigation
	SettleDelay       time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`             // Wait after load for client-side rendering
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"` // 0 leaves it to the driver
}

// TickerConfig describes the single rewritten market-data endpoint
type TickerConfig struct {
	HostMarker  string `mapstructure:"host_marker" yaml:"host_marker"` // URL substring selecting the ticker path
	Placeholder string `mapstructure:"placeholder" yaml:"placeholder"` // URL substring that triggers the rewrite
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`       // Real endpoint requested instead
}

// BlockSignature is an extra anti-bot signature; every phrase must be present
type BlockSignature struct {
	Label   string   `mapstructure:"label" yaml:"label"`
	Phrases []string `mapstructure:"phrases" yaml:"phrases"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // json or text
	File   string `mapstructure:"file" yaml:"file"`     // Optional rotated log file
}

// ProbeConfig holds the probe configuration
type ProbeConfig struct {
	// Input and output
	InputPath   string `mapstructure:"input_path" yaml:"input_path"`     // Line-delimited URL list
	OutputPath  string `mapstructure:"output_path" yaml:"output_path"`   // JSON report destination
	ArchivePath string `mapstructure:"archive_path" yaml:"archive_path"` // SQLite run archive, disabled when empty

	// Fetching
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`           // HTTP User-Agent header
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"` // HTTP request timeout
	RequestDelay   time.Duration `mapstructure:"request_delay" yaml:"request_delay"`     // Pause after each URL
	RespectRobots  bool          `mapstructure:"respect_robots" yaml:"respect_robots"`   // Whether to consult robots.txt
	Transport      string        `mapstructure:"transport" yaml:"transport"`             // standard, chrome-tls or cloudflare

	Auth            *Auth            `mapstructure:"auth" yaml:"auth"`
	Ticker          TickerConfig     `mapstructure:"ticker" yaml:"ticker"`
	BlockSignatures []BlockSignature `mapstructure:"block_signatures" yaml:"block_signatures"`
	Browser         BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Log             LogConfig        `mapstructure:"log" yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *ProbeConfig {
	return &ProbeConfig{
		OutputPath:     "output.json",
		UserAgent:      DefaultUserAgent,
		RequestTimeout: 15 * time.Second,
		RequestDelay:   500 * time.Millisecond,
		RespectRobots:  true,
		Transport:      TransportStandard,
		Auth: &Auth{
			Bearer: &BearerAuth{TokenEnv: "GEMINI_API_KEY"},
		},
		Ticker: TickerConfig{
			HostMarker:  "gemini.com/v1",
			Placeholder: "some_endpoint",
			Endpoint:    "https://api.gemini.com/v1/pubticker/btcusd",
		},
		Browser: BrowserConfig{
			Enabled:     true,
			Headless:    true,
			NoSandbox:   true,
			Stealth:     true,
			SettleDelay: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks if the configuration is valid
func (c *ProbeConfig) Validate() error {
	if c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.RequestDelay < 0 {
		return ErrNegativeDelay
	}

	if c.OutputPath == "" {
		return ErrEmptyOutputPath
	}

	if c.UserAgent == "" {
		return ErrEmptyUserAgent
	}

	switch strings.ToLower(c.Transport) {
	case "", TransportStandard, TransportChromeTLS, TransportCloudflare:
	default:
		return ErrUnknownTransport
	}

	if c.Browser.SettleDelay < 0 || c.Browser.NavigationTimeout < 0 {
		return ErrInvalidBrowserTiming
	}

	for _, sig := range c.BlockSignatures {
		if sig.Label == "" || len(sig.Phrases) == 0 {
			return ErrInvalidBlockSignature
		}
	}

	return nil
}

// GetBearerToken returns the API credential, resolving the environment
// variable if one is named. An empty result means no Authorization header.
func (c *ProbeConfig) GetBearerToken() string {
	if c.Auth == nil || c.Auth.Bearer == nil {
		return ""
	}

	bearer := c.Auth.Bearer
	if bearer.TokenEnv != "" {
		if token := os.Getenv(bearer.TokenEnv); token != "" {
			return token
		}
	}
	return bearer.Token
}
