// Package model defines the domain types used across the application.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

// Rule validation errors.
var (
	ErrEmptyPattern = errors.New("regex pattern is empty")
	ErrNoKeywords   = errors.New("keyword list is empty")
)

// MaxRuleID bounds generated rule identifiers (exclusive).
const MaxRuleID = 1_000_000

// RuleKind is the matching variant of a rule. It is implemented only by
// Regex and Keywords.
type RuleKind interface {
	isRuleKind()
}

// Regex matches when the pattern matches the whole post text.
type Regex struct {
	Pattern string
}

// Keywords matches when every term is a substring of the post text.
type Keywords struct {
	Terms []string
}

func (Regex) isRuleKind()    {}
func (Keywords) isRuleKind() {}

// Rule is a single filter owned by a subscriber.
// A nil Kind only appears for undecodable stored entries and matches nothing.
type Rule struct {
	ID   int64
	Kind RuleKind
}

// NewRuleID returns a random rule identifier in [1, MaxRuleID).
// Identifiers are not checked for uniqueness here.
func NewRuleID() int64 {
	return rand.Int64N(MaxRuleID-1) + 1
}

// NewRegexRule creates a regex rule from a non-empty pattern.
func NewRegexRule(pattern string) (Rule, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Rule{}, ErrEmptyPattern
	}
	return Rule{ID: NewRuleID(), Kind: Regex{Pattern: pattern}}, nil
}

// NewKeywordRule creates a keyword rule from a non-empty list of terms.
// Empty terms are dropped; term order is preserved.
func NewKeywordRule(terms []string) (Rule, error) {
	var kept []string
	for _, t := range terms {
		if t != "" {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		return Rule{}, ErrNoKeywords
	}
	return Rule{ID: NewRuleID(), Kind: Keywords{Terms: kept}}, nil
}

// ruleJSON is the persisted layout: exactly one of Regex or Keywords is set.
type ruleJSON struct {
	ID       int64    `json:"id"`
	Regex    *string  `json:"regex,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// MarshalJSON encodes the rule in the stored document layout.
func (r Rule) MarshalJSON() ([]byte, error) {
	out := ruleJSON{ID: r.ID}
	switch k := r.Kind.(type) {
	case Regex:
		p := k.Pattern
		out.Regex = &p
	case Keywords:
		out.Keywords = k.Terms
	default:
		return nil, fmt.Errorf("rule %d has no kind", r.ID)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a stored rule. Entries with neither a regex nor
// keywords decode with a nil Kind rather than failing the whole document.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var in ruleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.ID = in.ID
	switch {
	case in.Regex != nil:
		r.Kind = Regex{Pattern: *in.Regex}
	case len(in.Keywords) > 0:
		r.Kind = Keywords{Terms: in.Keywords}
	default:
		r.Kind = nil
	}
	return nil
}

// Post is a single entry returned by the upstream search API.
type Post struct {
	ID                int64  `json:"id"`
	ChannelID         int64  `json:"channel_id"`
	ChannelName       string `json:"channel_name"`
	Size              int64  `json:"size"`
	Text              string `json:"text"`
	FileSuffix        string `json:"file_suffix"`
	MsgID             int64  `json:"msg_id"`
	SupportsStreaming bool   `json:"supports_streaming"`
	Link              string `json:"link"`
	Date              int64  `json:"date"`
}
