package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
)

// HTTPClient handles HTTP requests with a fixed identity and timing metrics
type HTTPClient struct {
	client    *resty.Client
	userAgent string
}

// HTTPMetrics contains performance metrics for an HTTP request
type HTTPMetrics struct {
	TTFB         time.Duration // Time from connection to first response byte
	DownloadTime time.Duration // Total request time
	DNSLookup    time.Duration // DNS lookup time
	TCPConnect   time.Duration // TCP connection time
	TLSHandshake time.Duration // TLS handshake time
	ConnReused   bool
}

// HTTPResponse contains the response and metrics
type HTTPResponse struct {
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Text        string // Body decoded to UTF-8 using the declared charset
	ContentType string
	Metrics     HTTPMetrics
	FinalURL    string // After following redirects
}

// NewHTTPClient creates a new HTTP client using the default transport
func NewHTTPClient(userAgent string, timeout time.Duration) *HTTPClient {
	return NewHTTPClientWithTransport(userAgent, timeout, nil)
}

// NewHTTPClientWithTransport creates a new HTTP client. A nil transport keeps
// resty's default.
func NewHTTPClientWithTransport(userAgent string, timeout time.Duration, transport http.RoundTripper) *HTTPClient {
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.5")

	if transport != nil {
		client.SetTransport(transport)
	}

	return &HTTPClient{
		client:    client,
		userAgent: userAgent,
	}
}

// SetBearerAuth configures bearer token authentication for HTTP requests
func (h *HTTPClient) SetBearerAuth(token string) {
	if token == "" {
		return
	}
	h.client.SetAuthToken(token)
}

// UserAgent returns the identity string sent with every request
func (h *HTTPClient) UserAgent() string {
	return h.userAgent
}

// Get performs an HTTP GET request. Any status code is returned as a
// response; only transport failures produce an error.
func (h *HTTPClient) Get(ctx context.Context, url string) (*HTTPResponse, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		EnableTrace().
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	trace := resp.Request.TraceInfo()
	metrics := HTTPMetrics{
		TTFB:         trace.ServerTime,
		DownloadTime: trace.TotalTime,
		DNSLookup:    trace.DNSLookup,
		TCPConnect:   trace.TCPConnTime,
		TLSHandshake: trace.TLSHandshake,
		ConnReused:   trace.IsConnReused,
	}

	finalURL := url
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		finalURL = resp.RawResponse.Request.URL.String()
	}

	body := resp.Body()
	contentType := resp.Header().Get("Content-Type")

	return &HTTPResponse{
		StatusCode:  resp.StatusCode(),
		Headers:     resp.Header(),
		Body:        body,
		Text:        decodeText(body, contentType),
		ContentType: contentType,
		Metrics:     metrics,
		FinalURL:    finalURL,
	}, nil
}

// Close closes idle connections held by the client
func (h *HTTPClient) Close() {
	h.client.GetClient().CloseIdleConnections()
}

// decodeText converts the body to UTF-8, falling back to the raw bytes when
// the declared or sniffed charset cannot be applied. A body without a
// declared charset that is valid UTF-8 throughout is kept as is: sniffing
// only sees the first 1024 bytes and would pick windows-1252 for an ASCII
// prefix.
func decodeText(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	if !declaresCharset(contentType) && utf8.Valid(body) {
		return string(body)
	}

	reader, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return string(body)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

func declaresCharset(contentType string) bool {
	_, params, err := mime.ParseMediaType(contentType)
	return err == nil && params["charset"] != ""
}
