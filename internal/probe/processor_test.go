package probe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masahif/pageprobe/internal/config"
	"github.com/masahif/pageprobe/internal/parser"
)

type fakeFetcher struct {
	responses map[string]*HTTPResponse
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*HTTPResponse),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) respond(url string, status int, contentType, body string) {
	f.responses[url] = &HTTPResponse{
		StatusCode:  status,
		ContentType: contentType,
		Body:        []byte(body),
		Text:        body,
	}
}

func (f *fakeFetcher) Get(_ context.Context, url string) (*HTTPResponse, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if resp, ok := f.responses[url]; ok {
		return resp, nil
	}
	return &HTTPResponse{StatusCode: http.StatusNotFound}, nil
}

type fakeGate struct {
	decision Decision
}

func (g fakeGate) Check(context.Context, string) Decision {
	return g.decision
}

type fakeRenderer struct {
	available bool
	markup    string
	err       error
	calls     int
}

func (r *fakeRenderer) Available() bool { return r.available }

func (r *fakeRenderer) Render(context.Context, string) (string, error) {
	r.calls++
	return r.markup, r.err
}

const examplePage = `<html><head><title>Example</title></head><body><h1>Hi</h1><a href="/a">Link</a></body></html>`

const challengePage = `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`

func newTestProcessor(fetcher Fetcher, gate PolicyGate, renderer Renderer) *PageProcessor {
	ticker := NewTickerEndpoint(config.DefaultConfig().Ticker)
	return NewPageProcessor(fetcher, gate, renderer, ticker, nil)
}

func toMap(t *testing.T, result *PageResult) map[string]any {
	t.Helper()
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestProcessDisallowed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.respond("https://example.com/private", http.StatusOK, "text/html", examplePage)

	p := newTestProcessor(fetcher, fakeGate{decision: Denied}, nil)
	result := p.Process(context.Background(), "https://example.com/private")

	assert.Empty(t, fetcher.calls, "page must not be fetched")
	assert.Equal(t, ErrDisallowed.Error(), result.Error)

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://example.com/private","error":"Disallowed by robots.txt"}`, string(raw))
}

func TestProcessUnknownDecisionFetches(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.respond("https://example.com", http.StatusOK, "text/html", examplePage)

	p := newTestProcessor(fetcher, fakeGate{decision: Unknown}, nil)
	result := p.Process(context.Background(), "https://example.com")

	assert.Equal(t, []string{"https://example.com"}, fetcher.calls)
	assert.Equal(t, TypeHTML, result.Type)
}

func TestProcessHTML(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.respond("https://example.com", http.StatusOK, "text/html", examplePage)

	p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, nil)
	result := p.Process(context.Background(), "https://example.com")

	require.False(t, result.Failed())
	assert.Equal(t, "https://example.com", result.URL)
	assert.Equal(t, TypeHTML, result.Type)
	require.NotNil(t, result.PageData)
	assert.Equal(t, "Example", result.Title)
	assert.Equal(t, "Hi", result.H1)
	assert.Equal(t, []string{"https://example.com/a"}, result.LinksSample)
	assert.Equal(t, 1, result.LinksCount)
	assert.Equal(t, 3, result.WordCount)
	assert.False(t, result.Blocked)
	assert.Nil(t, result.FallbackResult)

	m := toMap(t, result)
	assert.NotContains(t, m, "error")
	assert.NotContains(t, m, "blocked_by")
	assert.Equal(t, false, m["blocked"])
	assert.Equal(t, []any{}, m["structured_data"])
}

func TestProcessTransportError(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["https://down.example"] = errors.New("request failed: connection refused")

	renderer := &fakeRenderer{available: true, markup: examplePage}
	p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
	result := p.Process(context.Background(), "https://down.example")

	raw, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"https://down.example","error":"request failed: connection refused"}`, string(raw))
	assert.Zero(t, renderer.calls)
}

func TestProcessNonSuccessStatus(t *testing.T) {
	tests := []struct {
		name         string
		renderer     *fakeRenderer
		wantFallback bool
	}{
		{"no renderer", nil, false},
		{"renderer unavailable", &fakeRenderer{available: false}, false},
		{"renderer available", &fakeRenderer{available: true, markup: examplePage}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.respond("https://example.com/missing", http.StatusServiceUnavailable, "text/html", "down")

			var renderer Renderer
			if tt.renderer != nil {
				renderer = tt.renderer
			}
			p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
			result := p.Process(context.Background(), "https://example.com/missing")

			assert.Equal(t, http.StatusServiceUnavailable, result.HTTPStatus)
			assert.Equal(t, MsgNonSuccessStatus, result.Error)
			assert.Empty(t, result.Type)

			m := toMap(t, result)
			assert.NotContains(t, m, "type")
			if !tt.wantFallback {
				assert.NotContains(t, m, "selenium_result")
				return
			}

			require.NotNil(t, result.FallbackResult)
			assert.Equal(t, "Example", result.FallbackResult.Title)
			assert.Equal(t, 1, tt.renderer.calls)

			nested := m["selenium_result"].(map[string]any)
			assert.NotContains(t, nested, "url")
			assert.Equal(t, "Example", nested["title"])
		})
	}
}

func TestProcessJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantData    string
	}{
		{"json content type", "application/json; charset=utf-8", `{"a": [1, 2]}`, `{"a":[1,2]}`},
		{"brace prefix", "text/plain", `  {"ok":true}`, `{"ok":true}`},
		{"array body", "application/vnd.api+json", `[1,2,3]`, `[1,2,3]`},
		{"invalid json", "application/json", `not <json>`, `"not <json>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.respond("https://api.example.com/x", http.StatusOK, tt.contentType, tt.body)

			p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, nil)
			result := p.Process(context.Background(), "https://api.example.com/x")

			assert.Equal(t, TypeJSON, result.Type)
			assert.Nil(t, result.PageData)
			assert.Equal(t, tt.wantData, string(result.Data))

			m := toMap(t, result)
			assert.NotContains(t, m, "title")
			assert.NotContains(t, m, "error")
		})
	}
}

func TestProcessJSONTruncatesRawText(t *testing.T) {
	body := "{" + strings.Repeat("é", 700)

	fetcher := newFakeFetcher()
	fetcher.respond("https://api.example.com/broken", http.StatusOK, "text/plain", body)

	p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, nil)
	result := p.Process(context.Background(), "https://api.example.com/broken")

	var data string
	require.NoError(t, json.Unmarshal(result.Data, &data))
	assert.Equal(t, maxRawData, len([]rune(data)))
	assert.True(t, strings.HasPrefix(data, "{é"))
}

func TestProcessBlocked(t *testing.T) {
	t.Run("without renderer", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond("https://guarded.example", http.StatusOK, "text/html", challengePage)

		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, &fakeRenderer{available: false})
		result := p.Process(context.Background(), "https://guarded.example")

		assert.True(t, result.IsBlocked())
		assert.Equal(t, "just-a-moment", result.BlockedBy)
		assert.Empty(t, result.Note)

		m := toMap(t, result)
		assert.NotContains(t, m, "selenium_result")
		assert.NotContains(t, m, "note")
	})

	t.Run("with renderer", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond("https://guarded.example", http.StatusOK, "text/html", challengePage)

		renderer := &fakeRenderer{available: true, markup: examplePage}
		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
		result := p.Process(context.Background(), "https://guarded.example")

		assert.True(t, result.IsBlocked())
		assert.Equal(t, MsgFallbackNote, result.Note)
		require.NotNil(t, result.FallbackResult)
		assert.False(t, result.FallbackResult.Blocked)
		assert.Equal(t, []string{"https://guarded.example/a"}, result.FallbackResult.LinksSample)
		assert.Equal(t, 1, renderer.calls)
	})

	t.Run("render failure", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond("https://guarded.example", http.StatusOK, "text/html", challengePage)

		renderer := &fakeRenderer{available: true, err: errors.New("navigation timed out")}
		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
		result := p.Process(context.Background(), "https://guarded.example")

		assert.False(t, result.Failed())
		assert.Equal(t, TypeHTML, result.Type)

		m := toMap(t, result)
		assert.Equal(t, map[string]any{"error": "navigation timed out"}, m["selenium_result"])
	})
}

func TestProcessCustomBlockSignature(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.respond("https://cdn.example", http.StatusOK, "text/html", `<h1>Access Denied</h1><p>Reference #18</p>`)

	detector := parser.NewBlockDetector(parser.AllPhrases("akamai", "access denied", "reference #"))
	p := NewPageProcessor(fetcher, fakeGate{decision: Allowed}, nil, nil, detector)
	result := p.Process(context.Background(), "https://cdn.example")

	assert.True(t, result.Blocked)
	assert.Equal(t, "akamai", result.BlockedBy)
}

func TestProcessTicker(t *testing.T) {
	const endpoint = "https://api.gemini.com/v1/pubticker/btcusd"

	t.Run("placeholder rewritten", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond(endpoint, http.StatusOK, "application/json", `{"bid":"1","ask":"2","last":"1.5"}`)

		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, nil)
		result := p.Process(context.Background(), "https://api.gemini.com/v1/some_endpoint")

		assert.Equal(t, []string{endpoint}, fetcher.calls)
		assert.Equal(t, "https://api.gemini.com/v1/some_endpoint", result.URL)
		assert.Equal(t, TypeJSON, result.Type)
		assert.JSONEq(t, `{"bid":"1","ask":"2","last":"1.5"}`, string(result.Data))
	})

	t.Run("html body is not parsed", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond("https://api.gemini.com/v1/symbols", http.StatusOK, "text/html", challengePage)

		renderer := &fakeRenderer{available: true, markup: examplePage}
		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
		result := p.Process(context.Background(), "https://api.gemini.com/v1/symbols")

		assert.Equal(t, TypeJSON, result.Type)
		assert.Nil(t, result.PageData)
		assert.Zero(t, renderer.calls)
	})

	t.Run("non-success has no fallback", func(t *testing.T) {
		fetcher := newFakeFetcher()
		fetcher.respond(endpoint, http.StatusTooManyRequests, "application/json", `{}`)

		renderer := &fakeRenderer{available: true, markup: examplePage}
		p := newTestProcessor(fetcher, fakeGate{decision: Allowed}, renderer)
		result := p.Process(context.Background(), "https://api.gemini.com/v1/some_endpoint")

		raw, err := json.Marshal(result)
		require.NoError(t, err)
		assert.JSONEq(t, `{"url":"https://api.gemini.com/v1/some_endpoint","http_status":429,"error":"Non-200 HTTP status"}`, string(raw))
		assert.Zero(t, renderer.calls)
	})
}

func TestRendererAvailabilityReadOnce(t *testing.T) {
	renderer := &fakeRenderer{available: true, markup: examplePage}
	p := newTestProcessor(newFakeFetcher(), fakeGate{decision: Allowed}, renderer)

	renderer.available = false
	assert.True(t, p.CanRender())
}

func newTickerConfig() config.TickerConfig {
	return config.DefaultConfig().Ticker
}
