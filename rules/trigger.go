// Package rules holds the trigger/response rule model shared by every channel
// engine, plus the rules document (JSON or YAML) that lists channels and their
// actions.
//
// Triggers and responses are closed tagged unions: a Kind plus the fields that
// kind needs. Matching and producing are a single switch over Kind, so adding a
// kind means touching exactly one place.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// TriggerKind selects how a Trigger compares message text.
type TriggerKind string

const (
	TriggerContains   TriggerKind = "contains"
	TriggerStartsWith TriggerKind = "starts_with"
	TriggerEndsWith   TriggerKind = "ends_with"
	TriggerEquivalent TriggerKind = "equivalent"
	TriggerRegex      TriggerKind = "regex"
)

// Trigger is a case-insensitive predicate over message text. For regex
// triggers Text holds the pattern.
type Trigger struct {
	Kind TriggerKind `json:"kind" yaml:"kind"`
	Text string      `json:"text" yaml:"text"`

	re *regexp.Regexp
}

// Contains matches when the message contains text.
func Contains(text string) Trigger { return Trigger{Kind: TriggerContains, Text: text} }

// StartsWith matches when the message starts with text.
func StartsWith(text string) Trigger { return Trigger{Kind: TriggerStartsWith, Text: text} }

// EndsWith matches when the message ends with text.
func EndsWith(text string) Trigger { return Trigger{Kind: TriggerEndsWith, Text: text} }

// Equivalent matches when the whole message equals text.
func Equivalent(text string) Trigger { return Trigger{Kind: TriggerEquivalent, Text: text} }

// Regex compiles pattern case-insensitively. Matching is unanchored; use ^ and
// $ in the pattern to pin it to the whole message.
func Regex(pattern string) (Trigger, error) {
	t := Trigger{Kind: TriggerRegex, Text: pattern}
	if err := t.compile(); err != nil {
		return Trigger{}, err
	}
	return t, nil
}

// MustRegex is Regex for patterns known to be valid.
func MustRegex(pattern string) Trigger {
	t, err := Regex(pattern)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Trigger) compile() error {
	switch t.Kind {
	case TriggerContains, TriggerStartsWith, TriggerEndsWith, TriggerEquivalent:
		return nil
	case TriggerRegex:
		if t.re != nil {
			return nil
		}
		re, err := regexp.Compile("(?i)" + t.Text)
		if err != nil {
			return &PatternCompileError{Pattern: t.Text, Err: err}
		}
		t.re = re
		return nil
	default:
		return fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
}

// Match reports whether message satisfies the trigger.
func (t Trigger) Match(message string) bool {
	switch t.Kind {
	case TriggerContains:
		return strings.Contains(fold(message), fold(t.Text))
	case TriggerStartsWith:
		return strings.HasPrefix(fold(message), fold(t.Text))
	case TriggerEndsWith:
		return strings.HasSuffix(fold(message), fold(t.Text))
	case TriggerEquivalent:
		return fold(message) == fold(t.Text)
	case TriggerRegex:
		if t.re == nil {
			// built by hand without Regex(); compile on the spot
			if err := t.compile(); err != nil {
				return false
			}
		}
		return t.re.MatchString(message)
	}
	return false
}

// Equal compares kind and text, ignoring compiled state.
func (t Trigger) Equal(o Trigger) bool { return t.Kind == o.Kind && t.Text == o.Text }

func (t Trigger) String() string { return fmt.Sprintf("%s(%q)", t.Kind, t.Text) }

// fold applies full Unicode case folding. A Caser is stateful, so each call
// gets its own.
func fold(s string) string { return cases.Fold().String(s) }
