// Package report writes the JSON artifact and the console summary for a run.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/masahif/pageprobe/internal/probe"
)

// WriteJSON writes the ordered results to path as a pretty-printed JSON
// array. HTML characters and non-ASCII text are written as-is.
func WriteJSON(path string, results []*probe.PageResult) error {
	data, err := Marshal(results)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Marshal encodes results the way WriteJSON stores them. A nil slice is
// encoded as an empty array.
func Marshal(results []*probe.PageResult) ([]byte, error) {
	if results == nil {
		results = []*probe.PageResult{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadJSON loads a report written by WriteJSON
func ReadJSON(path string) ([]*probe.PageResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var results []*probe.PageResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return results, nil
}
