package probe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadURLList reads a newline-delimited URL file. Lines are trimmed and
// blank lines skipped; there is no other syntax.
func ReadURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseURLList(file)
}

// ParseURLList reads URLs from r, one per line
func ParseURLList(r io.Reader) ([]string, error) {
	urls := []string{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read URL list: %w", err)
	}
	return urls, nil
}
