package probe

import (
	"context"
)

// Fetcher issues the single GET for a URL
type Fetcher interface {
	Get(ctx context.Context, url string) (*HTTPResponse, error)
}

// Decision is the policy gate's verdict for one URL
type Decision int

const (
	// Unknown means robots.txt could not be obtained or read; treated as allowed
	Unknown Decision = iota
	Allowed
	Denied
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Permits reports whether the fetch may proceed. Unknown fails open.
func (d Decision) Permits() bool {
	return d != Denied
}

// PolicyGate decides whether the configured agent may fetch a URL
type PolicyGate interface {
	Check(ctx context.Context, url string) Decision
}

// Renderer is the optional browser fallback. Available is fixed for the
// lifetime of the value and is read once by the processor.
type Renderer interface {
	Available() bool
	Render(ctx context.Context, url string) (string, error)
}

// ResultSink receives every finished result, in input order
type ResultSink interface {
	SaveResult(position int, result *PageResult) error
}
