package rules

import (
	"errors"
	"testing"
)

func TestTriggerMatch(t *testing.T) {
	tests := []struct {
		name    string
		trigger Trigger
		message string
		want    bool
	}{
		{"contains is case-insensitive", Contains("HATS"), "i love hats today", true},
		{"contains miss", Contains("hats"), "i love caps", false},
		{"starts with", StartsWith("!Joke"), "!joke please", true},
		{"starts with miss", StartsWith("!joke"), "tell a !joke", false},
		{"ends with", EndsWith("KAPPA"), "nice one kappa", true},
		{"ends with miss", EndsWith("kappa"), "kappa nice one", false},
		{"equivalent", Equivalent("Hello Bot"), "hello bot", true},
		{"equivalent requires whole message", Equivalent("hello"), "hello there", false},
		{"regex unanchored hots", MustRegex("h.ts"), "I love hots", true},
		{"regex unanchored hats", MustRegex("h.ts"), "I love hats", true},
		{"regex unanchored with trailing text", MustRegex("h.ts"), "I love hots!", true},
		{"regex anchored rejects trailing text", MustRegex("^I love h.ts$"), "I love hots!", false},
		{"regex anchored exact", MustRegex("^I love h.ts$"), "i LOVE hats", true},
		{"unknown kind never matches", Trigger{Kind: "nope", Text: "x"}, "x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trigger.Match(tt.message); got != tt.want {
				t.Errorf("%s.Match(%q) = %v, want %v", tt.trigger, tt.message, got, tt.want)
			}
		})
	}
}

func TestRegexInvalidPattern(t *testing.T) {
	_, err := Regex("h(ats")
	if err == nil {
		t.Fatal("Regex() error = nil, want pattern error")
	}
	var pe *PatternCompileError
	if !errors.As(err, &pe) {
		t.Fatalf("Regex() error = %T, want *PatternCompileError", err)
	}
	if pe.Pattern != "h(ats" {
		t.Errorf("Pattern = %q, want %q", pe.Pattern, "h(ats")
	}
}

func TestHandBuiltRegexTriggerStillMatches(t *testing.T) {
	tr := Trigger{Kind: TriggerRegex, Text: "^!so\\s+\\w+"}
	if !tr.Match("!SO someone") {
		t.Error("uncompiled regex trigger should compile on demand and match")
	}
	bad := Trigger{Kind: TriggerRegex, Text: "("}
	if bad.Match("(") {
		t.Error("invalid pattern should never match")
	}
}

func TestTriggerEqualIgnoresCompiledState(t *testing.T) {
	a := MustRegex("h.ts")
	b := Trigger{Kind: TriggerRegex, Text: "h.ts"}
	if !a.Equal(b) {
		t.Error("compiled and uncompiled triggers with same pattern should be equal")
	}
	if a.Equal(Contains("h.ts")) {
		t.Error("triggers of different kinds should differ")
	}
}
