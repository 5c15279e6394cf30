package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/masahif/pageprobe/internal/probe"
)

const (
	ruleWidth     = 80
	previewLinks  = 3
	statusSuccess = "Success"
)

// Rule returns a horizontal rule of the given character
func Rule(ch string) string {
	return strings.Repeat(ch, ruleWidth)
}

// Status classifies a result for the console
func Status(r *probe.PageResult) string {
	switch {
	case r.Failed():
		return "Error: " + r.Error
	case r.IsBlocked() && r.FallbackResult != nil:
		return "Blocked (fallback used)"
	case r.IsBlocked():
		return "Blocked (no fallback)"
	default:
		return statusSuccess
	}
}

// PrintSummary writes one block per result: URL, status and a short
// content preview
func PrintSummary(w io.Writer, results []*probe.PageResult) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SUMMARY REPORT")
	fmt.Fprintln(w, Rule("="))

	for _, r := range results {
		fmt.Fprintf(w, "URL: %s\n", r.URL)
		fmt.Fprintf(w, "Status: %s\n", Status(r))

		switch {
		case r.Type == probe.TypeJSON:
			if ticker, ok := tickerPreview(r.Data); ok {
				fmt.Fprintln(w, ticker)
			}
		case r.PageData != nil:
			fmt.Fprintf(w, "Title: %s, Words: %d\n", r.Title, r.WordCount)
			if len(r.LinksSample) > 0 {
				links := r.LinksSample
				if len(links) > previewLinks {
					links = links[:previewLinks]
				}
				fmt.Fprintf(w, "Links sample: %s\n", strings.Join(links, ", "))
			}
		}

		fmt.Fprintln(w, Rule("-"))
	}
}

// tickerPreview formats bid, ask and last when data is an object with a bid
func tickerPreview(data json.RawMessage) (string, bool) {
	if len(data) == 0 {
		return "", false
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", false
	}
	if _, ok := fields["bid"]; !ok {
		return "", false
	}

	return fmt.Sprintf("Bid: %s, Ask: %s, Last: %s",
		previewValue(fields["bid"]), previewValue(fields["ask"]), previewValue(fields["last"])), true
}

func previewValue(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
