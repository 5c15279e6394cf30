package config

import "errors"

var (
	// ErrInvalidTimeout is returned when request timeout is not greater than 0
	ErrInvalidTimeout = errors.New("request_timeout must be greater than 0")
	// ErrNegativeDelay is returned when the delay between URLs is negative
	ErrNegativeDelay = errors.New("request_delay cannot be negative")
	// ErrEmptyOutputPath is returned when output path is empty
	ErrEmptyOutputPath = errors.New("output_path cannot be empty")
	// ErrEmptyUserAgent is returned when no identity string is configured
	ErrEmptyUserAgent = errors.New("user_agent cannot be empty")
	// ErrUnknownTransport is returned for a transport name we cannot build
	ErrUnknownTransport = errors.New("transport must be one of standard, chrome-tls, cloudflare")
	// ErrInvalidBrowserTiming is returned when a browser delay or timeout is negative
	ErrInvalidBrowserTiming = errors.New("browser settle_delay and navigation_timeout cannot be negative")
	// ErrInvalidBlockSignature is returned when an extra block signature has no label or phrases
	ErrInvalidBlockSignature = errors.New("block_signatures entries need a label and at least one phrase")
)
