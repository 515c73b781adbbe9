package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewRegexRule(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		want    RuleKind
		wantErr error
	}{
		{name: "plain pattern", pattern: "abc", want: Regex{Pattern: "abc"}},
		{name: "trimmed", pattern: "  .*release.*  ", want: Regex{Pattern: ".*release.*"}},
		{name: "empty", pattern: "", wantErr: ErrEmptyPattern},
		{name: "whitespace only", pattern: " \t ", wantErr: ErrEmptyPattern},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRegexRule(tt.pattern)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ID < 1 || got.ID >= MaxRuleID {
				t.Errorf("id %d out of range", got.ID)
			}
			if diff := cmp.Diff(tt.want, got.Kind); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewKeywordRule(t *testing.T) {
	tests := []struct {
		name    string
		terms   []string
		want    RuleKind
		wantErr error
	}{
		{name: "ordered terms", terms: []string{"b", "a"}, want: Keywords{Terms: []string{"b", "a"}}},
		{name: "empty terms dropped", terms: []string{"", "x", ""}, want: Keywords{Terms: []string{"x"}}},
		{name: "nil", terms: nil, wantErr: ErrNoKeywords},
		{name: "only empty", terms: []string{""}, wantErr: ErrNoKeywords},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewKeywordRule(tt.terms)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got.Kind); diff != "" {
				t.Errorf("kind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRuleJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Rule
	}{
		{
			name: "regex entry",
			raw:  `{"id":7,"regex":"a.*b"}`,
			want: Rule{ID: 7, Kind: Regex{Pattern: "a.*b"}},
		},
		{
			name: "keywords entry",
			raw:  `{"id":8,"keywords":["x","y"]}`,
			want: Rule{ID: 8, Kind: Keywords{Terms: []string{"x", "y"}}},
		},
		{
			name: "legacy entry with explicit nulls",
			raw:  `{"id":9,"regex":null,"keywords":["z"]}`,
			want: Rule{ID: 9, Kind: Keywords{Terms: []string{"z"}}},
		},
		{
			name: "neither variant decodes without kind",
			raw:  `{"id":10}`,
			want: Rule{ID: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Rule
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decoded rule mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRuleMarshalWithoutKind(t *testing.T) {
	if _, err := json.Marshal(Rule{ID: 1}); err == nil {
		t.Fatal("expected error marshalling rule without kind")
	}
}
