package parser

import "strings"

// Signature is a labelled anti-bot marker. Match receives the markup
// already lowercased.
type Signature struct {
	Label string
	Match func(lowerHTML string) bool
}

// AllPhrases builds a signature that matches when every phrase occurs
// somewhere in the markup, in any order.
func AllPhrases(label string, phrases ...string) Signature {
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(p)
	}

	return Signature{
		Label: label,
		Match: func(lowerHTML string) bool {
			for _, p := range lowered {
				if !strings.Contains(lowerHTML, p) {
					return false
				}
			}
			return true
		},
	}
}

// DefaultSignatures are checked in order; the first match wins.
var DefaultSignatures = []Signature{
	AllPhrases("just-a-moment", "just a moment"),
	AllPhrases("cloudflare", "cloudflare"),
	AllPhrases("javascript-check", "please enable javascript", "checking"),
}

// BlockDetector classifies raw markup as an anti-bot interstitial using
// plain substring signatures. No structural parsing is involved, so any page
// that mentions a signature phrase in prose is reported as blocked.
type BlockDetector struct {
	signatures []Signature
}

// NewBlockDetector creates a detector with the default signatures followed by extra ones
func NewBlockDetector(extra ...Signature) *BlockDetector {
	sigs := make([]Signature, 0, len(DefaultSignatures)+len(extra))
	sigs = append(sigs, DefaultSignatures...)
	sigs = append(sigs, extra...)
	return &BlockDetector{signatures: sigs}
}

// Detect reports whether the markup is blocked and which signature matched
func (d *BlockDetector) Detect(rawHTML string) (label string, blocked bool) {
	lower := strings.ToLower(rawHTML)
	for _, sig := range d.signatures {
		if sig.Match(lower) {
			return sig.Label, true
		}
	}
	return "", false
}

// Labels returns the signature labels in evaluation order
func (d *BlockDetector) Labels() []string {
	labels := make([]string, len(d.signatures))
	for i, sig := range d.signatures {
		labels[i] = sig.Label
	}
	return labels
}
