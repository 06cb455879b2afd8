// Package intent implements the two-stage intent classification pipeline:
// a local keyword heuristic that answers synchronously with no I/O, and a
// remote classifier consulted under a hard timeout when the heuristic has no
// opinion. Remote failures of any kind resolve to one deterministic fallback
// verdict.
package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultKeywords is the fixed keyword set for the fast local path. A single
// case-insensitive substring hit anywhere in the transcript decides the
// utterance is a command without touching the network.
var defaultKeywords = []string{
	"remind", "task", "timer", "alarm",
	"complete", "done", "delete", "remove",
	"shopping", "grocery",
}

const defaultPhoneticThreshold = 0.88

// Option is a functional option for configuring a [Heuristic].
type Option func(*Heuristic)

// WithKeywords appends extra keywords to the built-in set.
func WithKeywords(keywords ...string) Option {
	return func(h *Heuristic) {
		h.keywords = append(h.keywords, keywords...)
	}
}

// WithPhoneticMatching enables a secondary tolerance pass: words that sound
// like a keyword (Double Metaphone overlap plus Jaro-Winkler above the
// threshold) also count as hits, so common STT mis-hearings ("remine me",
// "tymer") still take the fast path. Exact substring matching always runs
// first; the pass is deterministic and purely local.
func WithPhoneticMatching(threshold float64) Option {
	return func(h *Heuristic) {
		h.phonetic = true
		if threshold > 0 {
			h.threshold = threshold
		}
	}
}

// Heuristic is the local fast-path intent decision. It is read-only after
// construction and safe for concurrent use.
type Heuristic struct {
	keywords  []string
	phonetic  bool
	threshold float64

	// keywordCodes caches Double Metaphone codes per keyword; populated only
	// when phonetic matching is enabled.
	keywordCodes map[string][]string
}

// NewHeuristic builds a Heuristic over the built-in keyword set plus any
// options.
func NewHeuristic(opts ...Option) *Heuristic {
	h := &Heuristic{
		keywords:  append([]string(nil), defaultKeywords...),
		threshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(h)
	}
	if h.phonetic {
		h.keywordCodes = make(map[string][]string, len(h.keywords))
		for _, kw := range h.keywords {
			p, s := matchr.DoubleMetaphone(kw)
			var codes []string
			if p != "" {
				codes = append(codes, p)
			}
			if s != "" {
				codes = append(codes, s)
			}
			h.keywordCodes[kw] = codes
		}
	}
	return h
}

// Match reports whether text contains a command keyword. First match wins;
// the check is synchronous and performs no I/O.
func (h *Heuristic) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range h.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if !h.phonetic {
		return false
	}
	for _, word := range strings.Fields(lower) {
		if h.soundsLikeKeyword(strings.Trim(word, ",.!?")) {
			return true
		}
	}
	return false
}

// soundsLikeKeyword reports whether word phonetically matches any keyword:
// at least one shared Double Metaphone code and a Jaro-Winkler similarity at
// or above the threshold.
func (h *Heuristic) soundsLikeKeyword(word string) bool {
	if word == "" {
		return false
	}
	wp, ws := matchr.DoubleMetaphone(word)
	for kw, codes := range h.keywordCodes {
		overlap := false
		for _, c := range codes {
			if c != "" && (c == wp || c == ws) {
				overlap = true
				break
			}
		}
		if !overlap {
			continue
		}
		if matchr.JaroWinkler(word, kw, false) >= h.threshold {
			return true
		}
	}
	return false
}
