package rules

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCooldown is the per-user window used when a channel does not set one.
const DefaultCooldown = 10 * time.Second

// Action pairs a trigger with the response it fires.
type Action struct {
	Trigger  Trigger  `json:"trigger" yaml:"trigger"`
	Response Response `json:"response" yaml:"response"`
}

// NewAction validates the pair and compiles regex triggers.
func NewAction(t Trigger, r Response) (Action, error) {
	a := Action{Trigger: t, Response: r}
	if err := a.Build(); err != nil {
		return Action{}, err
	}
	return a, nil
}

// Build validates the action in place, compiling a regex trigger once so
// matching never recompiles it.
func (a *Action) Build() error {
	if err := a.Trigger.compile(); err != nil {
		return err
	}
	return a.Response.validate()
}

// Equal compares trigger and response.
func (a Action) Equal(o Action) bool {
	return a.Trigger.Equal(o.Trigger) && a.Response.Equal(o.Response)
}

// ChannelConfig is the serialized form of one channel engine.
type ChannelConfig struct {
	Name     string   `json:"name" yaml:"name"`
	Cooldown Duration `json:"cooldown" yaml:"cooldown"`
	Actions  []Action `json:"actions" yaml:"actions"`
}

// Build normalizes the channel name and builds every action. The first
// failing action is reported with its position.
func (c *ChannelConfig) Build() error {
	c.Name = NormalizeChannel(c.Name)
	if c.Name == "" {
		return fmt.Errorf("channel name is empty")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("channel %s: negative cooldown %s", c.Name, c.Cooldown)
	}
	for i := range c.Actions {
		if err := c.Actions[i].Build(); err != nil {
			return fmt.Errorf("channel %s action %d: %w", c.Name, i, err)
		}
	}
	return nil
}

// Equal compares name, cooldown and actions in order.
func (c ChannelConfig) Equal(o ChannelConfig) bool {
	if c.Name != o.Name || c.Cooldown != o.Cooldown || len(c.Actions) != len(o.Actions) {
		return false
	}
	for i := range c.Actions {
		if !c.Actions[i].Equal(o.Actions[i]) {
			return false
		}
	}
	return true
}

// ProviderConfig describes an HTTP source for external responses. Field is a
// gjson path into a JSON body; when empty the first non-blank line of the body
// is used.
type ProviderConfig struct {
	ID      string            `json:"id" yaml:"id"`
	URL     string            `json:"url" yaml:"url"`
	Field   string            `json:"field,omitempty" yaml:"field,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// Equal compares every field including headers.
func (p ProviderConfig) Equal(o ProviderConfig) bool {
	if p.ID != o.ID || p.URL != o.URL || p.Field != o.Field || len(p.Headers) != len(o.Headers) {
		return false
	}
	for k, v := range p.Headers {
		if ov, ok := o.Headers[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Config is the whole rules document: every monitored channel plus optional
// external providers.
type Config struct {
	Channels  []ChannelConfig  `json:"channels" yaml:"channels"`
	Providers []ProviderConfig `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Build validates the document. Any error is a *ConfigError (wrapping a
// *PatternCompileError for bad regex triggers).
func (c *Config) Build() error {
	seen := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		if err := c.Channels[i].Build(); err != nil {
			return &ConfigError{Err: err}
		}
		name := c.Channels[i].Name
		if seen[name] {
			return &ConfigError{Err: fmt.Errorf("duplicate channel %s", name)}
		}
		seen[name] = true
	}
	ids := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" || p.URL == "" {
			return &ConfigError{Err: fmt.Errorf("provider needs id and url")}
		}
		if ids[p.ID] {
			return &ConfigError{Err: fmt.Errorf("duplicate provider %s", p.ID)}
		}
		ids[p.ID] = true
	}
	return nil
}

// Equal is the round-trip equality used for save/load: same channels in the
// same order and the same providers in the same order.
func (c *Config) Equal(o *Config) bool {
	if c == nil || o == nil {
		return c == o
	}
	if len(c.Channels) != len(o.Channels) || len(c.Providers) != len(o.Providers) {
		return false
	}
	for i := range c.Channels {
		if !c.Channels[i].Equal(o.Channels[i]) {
			return false
		}
	}
	for i := range c.Providers {
		if !c.Providers[i].Equal(o.Providers[i]) {
			return false
		}
	}
	return true
}

// NormalizeChannel strips IRC channel decoration ("#") and lower-cases the
// name so config names and protocol names compare equal.
func NormalizeChannel(name string) string {
	return strings.ToLower(strings.TrimLeft(strings.TrimSpace(name), "#"))
}
