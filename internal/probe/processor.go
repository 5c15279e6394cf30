package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/masahif/pageprobe/internal/parser"
)

// PageProcessor runs the single-URL pipeline: policy gate, one GET,
// classification and the optional fallback render.
type PageProcessor struct {
	fetcher  Fetcher
	gate     PolicyGate
	renderer Renderer
	ticker   *TickerEndpoint
	detector *parser.BlockDetector

	// canRender is read from the renderer once and never changes
	canRender bool
}

// NewPageProcessor creates a processor. A nil gate allows everything and a
// nil renderer disables the fallback.
func NewPageProcessor(fetcher Fetcher, gate PolicyGate, renderer Renderer, ticker *TickerEndpoint, detector *parser.BlockDetector) *PageProcessor {
	if gate == nil {
		gate = AllowAllGate{}
	}
	if detector == nil {
		detector = parser.NewBlockDetector()
	}

	canRender := renderer != nil && renderer.Available()
	slog.Debug("Page processor ready", "fallback_renderer", canRender)

	return &PageProcessor{
		fetcher:   fetcher,
		gate:      gate,
		renderer:  renderer,
		ticker:    ticker,
		detector:  detector,
		canRender: canRender,
	}
}

// CanRender reports whether blocked or failed pages get a fallback render
func (p *PageProcessor) CanRender() bool {
	return p.canRender
}

// Process produces exactly one result for url. Failures are recorded in the
// result; Process never returns an error.
func (p *PageProcessor) Process(ctx context.Context, url string) *PageResult {
	if !p.gate.Check(ctx, url).Permits() {
		slog.Info("URL disallowed by robots.txt", "url", url)
		return failure(url, ErrDisallowed)
	}

	if p.ticker.Matches(url) {
		return p.processTicker(ctx, url)
	}

	resp, err := p.fetcher.Get(ctx, url)
	if err != nil {
		slog.Warn("Fetch failed", "url", url, "error", err)
		return failure(url, err)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Info("Non-success status", "url", url, "status", resp.StatusCode)
		result := failure(url, ErrNonSuccessStatus)
		result.HTTPStatus = resp.StatusCode
		if p.canRender {
			result.FallbackResult = p.fallback(ctx, url)
		}
		return result
	}

	if isJSONResponse(resp) {
		return &PageResult{URL: url, Type: TypeJSON, Data: jsonData(jsonText(resp))}
	}

	return p.processHTML(ctx, url, resp.Text)
}

// processTicker handles the market-data endpoint. It never parses HTML and
// never falls back to the browser.
func (p *PageProcessor) processTicker(ctx context.Context, url string) *PageResult {
	target := p.ticker.Target(url)
	slog.Debug("Requesting ticker endpoint", "url", url, "target", target)

	resp, err := p.fetcher.Get(ctx, target)
	if err != nil {
		slog.Warn("Ticker fetch failed", "url", url, "error", err)
		return failure(url, err)
	}

	if resp.StatusCode != http.StatusOK {
		result := failure(url, ErrNonSuccessStatus)
		result.HTTPStatus = resp.StatusCode
		return result
	}

	return &PageResult{URL: url, Type: TypeJSON, Data: jsonData(jsonText(resp))}
}

func (p *PageProcessor) processHTML(ctx context.Context, url, markup string) *PageResult {
	page, err := p.classify(url, markup)
	if err != nil {
		slog.Warn("Classification failed", "url", url, "error", err)
		return failure(url, err)
	}

	result := &PageResult{URL: url, Type: TypeHTML, PageData: page}
	if page.Blocked {
		slog.Info("Anti-bot page detected", "url", url, "signature", page.BlockedBy, "fallback", p.canRender)
		if p.canRender {
			result.Note = MsgFallbackNote
			result.FallbackResult = p.fallback(ctx, url)
		}
	}
	return result
}

// fallback renders url in the browser and classifies the rendered markup.
// Errors become a marker; they never fail the parent result.
func (p *PageProcessor) fallback(ctx context.Context, url string) *PageResult {
	markup, err := p.renderer.Render(ctx, url)
	if err != nil {
		slog.Warn("Fallback render failed", "url", url, "error", err)
		return errorMarker(err.Error())
	}

	page, err := p.classify(url, markup)
	if err != nil {
		return errorMarker(err.Error())
	}
	return &PageResult{PageData: page}
}

func (p *PageProcessor) classify(url, markup string) (*PageData, error) {
	htmlParser, err := parser.NewHTMLParserWithDetector(url, p.detector)
	if err != nil {
		return nil, err
	}

	parsed, err := htmlParser.Parse([]byte(markup))
	if err != nil {
		return nil, err
	}
	return newPageData(parsed), nil
}

// isJSONResponse applies the JSON rule: the content type mentions json or
// the trimmed body opens an object.
func isJSONResponse(resp *HTTPResponse) bool {
	if strings.Contains(strings.ToLower(resp.ContentType), "json") {
		return true
	}
	return strings.HasPrefix(strings.TrimSpace(resp.Text), "{")
}

// jsonText is the raw body when it is valid UTF-8, otherwise the decoded text
func jsonText(resp *HTTPResponse) string {
	if utf8.Valid(resp.Body) {
		return string(resp.Body)
	}
	return resp.Text
}

// jsonData returns the parsed body, or the first maxRawData characters of
// the text as a JSON string when it does not parse.
func jsonData(text string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(text))
	if json.Valid(trimmed) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err == nil {
			return buf.Bytes()
		}
	}

	raw := text
	if runes := []rune(text); len(runes) > maxRawData {
		raw = string(runes[:maxRawData])
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(raw); err != nil {
		return json.RawMessage(`""`)
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}
