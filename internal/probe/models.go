package probe

import (
	"encoding/json"
	"errors"

	"github.com/masahif/pageprobe/internal/parser"
)

// ResultType tells how a successful response was classified
type ResultType string

const (
	TypeHTML ResultType = "html"
	TypeJSON ResultType = "json"
)

// Messages carried in the report
const (
	MsgDisallowed       = "Disallowed by robots.txt"
	MsgNonSuccessStatus = "Non-200 HTTP status"
	MsgFallbackNote     = "Blocked by anti-bot, using browser fallback"
)

// Per-URL failures. They never abort a run; the message is what the report
// carries in the error field.
var (
	ErrDisallowed       = errors.New(MsgDisallowed)
	ErrNonSuccessStatus = errors.New(MsgNonSuccessStatus)
)

// maxRawData is the number of characters kept when a JSON body does not parse
const maxRawData = 500

// PageResult is the outcome for one input URL. A result either carries an
// Error or a Type, never both. The same shape is reused for the nested
// fallback result, where only the page fields (or an error marker) are set.
type PageResult struct {
	URL        string          `json:"url,omitempty"`
	Type       ResultType      `json:"type,omitempty"`
	Error      string          `json:"error,omitempty"`
	HTTPStatus int             `json:"http_status,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`

	*PageData

	Note           string      `json:"note,omitempty"`
	FallbackResult *PageResult `json:"selenium_result,omitempty"`
}

// PageData holds the fields extracted from an HTML document.
// LinksCount always equals len(LinksSample); the sample is capped, so the
// count is not a true total for pages with many links.
type PageData struct {
	Title           string            `json:"title"`
	MetaDescription string            `json:"meta_description"`
	H1              string            `json:"h1"`
	WordCount       int               `json:"word_count"`
	LinksCount      int               `json:"links_count"`
	LinksSample     []string          `json:"links_sample"`
	ScriptCount     int               `json:"script_count"`
	ScriptSrcSample []string          `json:"script_src_sample"`
	StructuredData  []json.RawMessage `json:"structured_data"`
	Blocked         bool              `json:"blocked"`
	BlockedBy       string            `json:"blocked_by,omitempty"`
}

// Failed reports whether the result carries an error
func (r *PageResult) Failed() bool {
	return r.Error != ""
}

// IsBlocked reports whether the page was classified as an anti-bot page
func (r *PageResult) IsBlocked() bool {
	return r.PageData != nil && r.Blocked
}

// newPageData converts a parse result into report fields
func newPageData(parsed *parser.ParseResult) *PageData {
	return &PageData{
		Title:           parsed.Title,
		MetaDescription: parsed.MetaDesc,
		H1:              parsed.H1,
		WordCount:       parsed.WordCount,
		LinksCount:      len(parsed.Links),
		LinksSample:     parsed.Links,
		ScriptCount:     parsed.ScriptCount,
		ScriptSrcSample: parsed.ScriptSources,
		StructuredData:  parsed.StructuredData,
		Blocked:         parsed.Blocked,
		BlockedBy:       parsed.BlockSignature,
	}
}

// failure records err as the outcome for url
func failure(url string, err error) *PageResult {
	return &PageResult{URL: url, Error: err.Error()}
}

// errorMarker is the nested value recorded when a fallback render fails
func errorMarker(msg string) *PageResult {
	return &PageResult{Error: msg}
}
