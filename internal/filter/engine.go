// Package filter implements the post matching engine.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/dgraph-io/ristretto/v2"

	"acgn_relay/internal/model"
)

// Matcher evaluates subscriber rules against post text. Compiled regular
// expressions are cached by pattern.
type Matcher struct {
	cache *ristretto.Cache[string, *regexp.Regexp]
	log   *slog.Logger
}

// NewMatcher creates a Matcher with a bounded regex cache.
func NewMatcher(log *slog.Logger) (*Matcher, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create regex cache: %w", err)
	}
	return &Matcher{cache: cache, log: log}, nil
}

// Close releases the regex cache.
func (m *Matcher) Close() {
	m.cache.Close()
}

// MatchAny reports whether at least one rule matches text.
func (m *Matcher) MatchAny(rules []model.Rule, text string) bool {
	for _, r := range rules {
		if m.MatchOne(r, text) {
			return true
		}
	}
	return false
}

// MatchOne reports whether a single rule matches text.
// Regex rules must match the entire text. Keyword rules require every term
// to be a case-sensitive substring. A rule whose pattern does not compile,
// or which has no kind, never matches.
func (m *Matcher) MatchOne(rule model.Rule, text string) bool {
	switch k := rule.Kind.(type) {
	case model.Regex:
		re, err := m.compile(k.Pattern)
		if err != nil {
			m.log.Warn("invalid rule pattern", "rule_id", rule.ID, "pattern", k.Pattern, "error", err)
			return false
		}
		return re.MatchString(text)
	case model.Keywords:
		if len(k.Terms) == 0 {
			return false
		}
		for _, term := range k.Terms {
			if !strings.Contains(text, term) {
				return false
			}
		}
		return true
	}
	return false
}

func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := m.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := CompileFull(pattern)
	if err != nil {
		return nil, err
	}
	m.cache.Set(pattern, re, 1)
	return re, nil
}

// CompileFull compiles pattern anchored at both ends, so it only matches
// when the whole input matches.
func CompileFull(pattern string) (*regexp.Regexp, error) {
	// Anchor the parsed form, not the source text: an unbalanced group or an
	// unterminated \Q quote in the source would otherwise swallow the anchors.
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	re, err := regexp.Compile(`\A(?:` + parsed.String() + `)\z`)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return re, nil
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := CompileFull(pattern)
	return err
}
