// Package parser provides HTML parsing and content extraction capabilities.
// It extracts metadata, links, scripts, structured data and an anti-bot
// verdict from HTML documents.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	// MaxLinks caps the link sample, and therefore the reported link count
	MaxLinks = 30
	// MaxScriptSamples caps the script source sample
	MaxScriptSamples = 10
)

// HTMLParser extracts page metadata from HTML
type HTMLParser struct {
	baseURL  *url.URL
	detector *BlockDetector
}

// ParseResult contains the parsed HTML data
type ParseResult struct {
	Title          string
	MetaDesc       string
	H1             string
	WordCount      int
	Links          []string          // Absolute URLs, document order, at most MaxLinks
	ScriptCount    int               // Scripts declaring a non-empty src
	ScriptSources  []string          // First MaxScriptSamples src values as declared
	StructuredData []json.RawMessage // One entry per ld+json block
	Blocked        bool
	BlockSignature string
}

// NewHTMLParser creates a new HTML parser with the default block signatures
func NewHTMLParser(baseURL string) (*HTMLParser, error) {
	return NewHTMLParserWithDetector(baseURL, NewBlockDetector())
}

// NewHTMLParserWithDetector creates a new HTML parser with a custom block detector
func NewHTMLParserWithDetector(baseURL string, detector *BlockDetector) (*HTMLParser, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	if detector == nil {
		detector = NewBlockDetector()
	}

	return &HTMLParser{
		baseURL:  parsedURL,
		detector: detector,
	}, nil
}

// Parse parses HTML content and extracts page metadata.
// The anti-bot verdict is computed over the raw markup, the rest over the
// parsed tree. Scripting is disabled while parsing so that <noscript>
// content is read as markup rather than as raw text.
func (p *HTMLParser) Parse(htmlContent []byte) (*ParseResult, error) {
	root, err := html.ParseWithOptions(bytes.NewReader(htmlContent), html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	result := &ParseResult{
		Title:          p.extractTitle(doc),
		MetaDesc:       p.extractMetaDescription(doc),
		H1:             strings.TrimSpace(doc.Find("h1").First().Text()),
		WordCount:      countWords(root),
		Links:          p.extractLinks(doc),
		StructuredData: p.extractStructuredData(doc),
	}

	result.ScriptCount, result.ScriptSources = p.extractScripts(doc)
	result.BlockSignature, result.Blocked = p.detector.Detect(string(htmlContent))

	return result, nil
}

// extractTitle returns the first non-empty <title> text
func (p *HTMLParser) extractTitle(doc *goquery.Document) string {
	var title string
	doc.Find("title").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		title = strings.TrimSpace(s.Text())
		return title == ""
	})
	return title
}

// extractMetaDescription reads the content of the first description meta tag
func (p *HTMLParser) extractMetaDescription(doc *goquery.Document) string {
	var desc string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content, _ := s.Attr("content")
		desc = strings.TrimSpace(content)
		return false
	})
	return desc
}

// extractLinks resolves the first MaxLinks anchor targets against the base URL
func (p *HTMLParser) extractLinks(doc *goquery.Document) []string {
	links := []string{}
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		links = append(links, p.resolveURL(href))
		return len(links) < MaxLinks
	})
	return links
}

// extractScripts counts external scripts and samples their sources
func (p *HTMLParser) extractScripts(doc *goquery.Document) (int, []string) {
	sources := []string{}
	count := 0
	doc.Find("script[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if src == "" {
			return
		}
		count++
		if len(sources) < MaxScriptSamples {
			sources = append(sources, src)
		}
	})
	return count, sources
}

// extractStructuredData collects ld+json blocks, keeping invalid JSON as a string
func (p *HTMLParser) extractStructuredData(doc *goquery.Document) []json.RawMessage {
	blocks := []json.RawMessage{}
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		typ, _ := s.Attr("type")
		if !strings.EqualFold(strings.TrimSpace(typ), "application/ld+json") {
			return
		}

		raw := s.Text()
		if raw == "" {
			return
		}

		trimmed := strings.TrimSpace(raw)
		if json.Valid([]byte(trimmed)) {
			var compact bytes.Buffer
			if err := json.Compact(&compact, []byte(trimmed)); err == nil {
				blocks = append(blocks, json.RawMessage(compact.Bytes()))
				return
			}
		}

		encoded, err := encodeString(trimmed)
		if err != nil {
			return
		}
		blocks = append(blocks, encoded)
	})
	return blocks
}

// encodeString quotes s as a JSON string without escaping HTML characters
func encodeString(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// resolveURL converts relative URLs to absolute URLs. Unparsable hrefs are
// returned as written so every anchor still occupies one sample slot.
func (p *HTMLParser) resolveURL(href string) string {
	href = strings.TrimSpace(href)
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.baseURL.ResolveReference(u).String()
}

// countWords counts whitespace-separated tokens in visible text nodes.
// Each text node is tokenised on its own, so adjacent tags separate words.
func countWords(n *html.Node) int {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "template":
			return 0
		}
	}

	if n.Type == html.TextNode {
		return len(strings.Fields(n.Data))
	}

	total := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		total += countWords(c)
	}
	return total
}
