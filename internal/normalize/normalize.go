// Package normalize turns raw extracted email candidates into canonical,
// deduplication-key form. Normalization is a pure function: the same input
// always yields the same output, which dedup correctness and idempotent
// re-processing after worker retries depend on.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	emailaddress "github.com/mcnijman/go-emailaddress"
)

// ErrRejected is returned for candidates that do not normalize to a valid,
// acceptable address.
var ErrRejected = errors.New("candidate rejected")

// Strategy rewrites one obfuscation style into plain address form. Apply
// reports whether the strategy matched; strategies are tried in order and
// the first match wins.
type Strategy struct {
	Name  string
	Apply func(raw string) (string, bool)
}

// Normalizer validates and canonicalizes raw email candidates.
type Normalizer struct {
	strategies []Strategy
	reject     []*regexp.Regexp
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithStrategies replaces the default de-obfuscation strategy list.
func WithStrategies(strategies []Strategy) Option {
	return func(n *Normalizer) { n.strategies = strategies }
}

// WithRejectPatterns replaces the default reject-list.
func WithRejectPatterns(patterns []*regexp.Regexp) Option {
	return func(n *Normalizer) { n.reject = patterns }
}

// New builds a Normalizer with the default strategies and reject-list.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		strategies: DefaultStrategies(),
		reject:     defaultRejectPatterns(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var (
	bracketAtDot = regexp.MustCompile(`(?i)^\s*([a-z0-9._%+-]+)\s*\[\s*at\s*\]\s*([a-z0-9.-]+)\s*\[\s*dot\s*\]\s*([a-z]{2,})\s*$`)
	parenAtDot   = regexp.MustCompile(`(?i)^\s*([a-z0-9._%+-]+)\s*\(\s*a?t?\s*\)\s*([a-z0-9.-]+)\s*\(\s*dot\s*\)\s*([a-z]{2,})\s*$`)
	wordAtDot    = regexp.MustCompile(`(?i)^\s*([a-z0-9._%+-]+)\s+at\s+([a-z0-9.-]+)\s+dot\s+([a-z]{2,})\s*$`)
	spacedAtDot  = regexp.MustCompile(`(?i)^\s*([a-z0-9._%+-]+)\s*(?:@|\[\s*at\s*\]|\(\s*at\s*\)|\s+at\s+)\s*([a-z0-9.-]+)\s*(?:\.|\[\s*dot\s*\]|\(\s*dot\s*\)|\s+dot\s+)\s*([a-z]{2,})\s*$`)
)

// DefaultStrategies returns the built-in de-obfuscation strategies, most
// specific first.
func DefaultStrategies() []Strategy {
	rewrite := func(name string, re *regexp.Regexp) Strategy {
		return Strategy{
			Name: name,
			Apply: func(raw string) (string, bool) {
				m := re.FindStringSubmatch(raw)
				if m == nil {
					return "", false
				}
				return m[1] + "@" + m[2] + "." + m[3], true
			},
		}
	}
	return []Strategy{
		rewrite("bracket-at-dot", bracketAtDot),
		rewrite("paren-at-dot", parenAtDot),
		rewrite("word-at-dot", wordAtDot),
		rewrite("spaced-at-dot", spacedAtDot),
	}
}

// defaultRejectPatterns filters addresses that match syntactically but are
// never real contacts: asset filenames, tracking IDs, and common placeholder
// hosts. Kept deliberately narrow so test fixtures on example domains still
// normalize.
func defaultRejectPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`\.(?:png|jpe?g|gif|svg|webp|bmp|ico|css|js)$`),
		regexp.MustCompile(`^[0-9a-f]{24,}@`),
		regexp.MustCompile(`@(?:your|my)?domain\.(?:com|net|org)$`),
		regexp.MustCompile(`@(?:email|sentry|localhost)\.`),
		regexp.MustCompile(`^(?:noreply|no-reply|donotreply)@`),
	}
}

// Normalize returns the canonical form of a raw candidate, or ErrRejected.
func (n *Normalizer) Normalize(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	candidate = strings.TrimPrefix(strings.ToValidUTF8(candidate, ""), "mailto:")
	if candidate == "" {
		return "", fmt.Errorf("empty candidate: %w", ErrRejected)
	}

	for _, s := range n.strategies {
		if rewritten, ok := s.Apply(candidate); ok {
			candidate = rewritten
			break
		}
	}

	candidate = strings.Trim(candidate, "<>()[]{}\"' \t")
	candidate = strings.TrimRight(candidate, ".,;:!?")
	candidate = strings.ToLower(candidate)

	addr, err := emailaddress.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", raw, ErrRejected)
	}
	if err := addr.ValidateIcanSuffix(); err != nil {
		return "", fmt.Errorf("suffix of %q: %w", raw, ErrRejected)
	}

	canonical := addr.String()
	for _, re := range n.reject {
		if re.MatchString(canonical) {
			return "", fmt.Errorf("reject-list match for %q: %w", raw, ErrRejected)
		}
	}
	return canonical, nil
}
