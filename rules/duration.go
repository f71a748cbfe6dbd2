package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that serializes as a Go duration string
// ("10s", "1m30s"). Bare numbers are read as seconds, and a
// {"secs": N, "nanos": N} object is accepted as well.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

type legacyDuration struct {
	Secs  int64 `json:"secs" yaml:"secs"`
	Nanos int64 `json:"nanos" yaml:"nanos"`
}

func (l legacyDuration) duration() Duration {
	return Duration(time.Duration(l.Secs)*time.Second + time.Duration(l.Nanos))
}

func parseDurationText(s string) (Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(v), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := parseDurationText(s)
		if err != nil {
			return err
		}
		*d = v
	case b[0] == '{':
		var l legacyDuration
		if err := json.Unmarshal(b, &l); err != nil {
			return err
		}
		*d = l.duration()
	default:
		v, err := parseDurationText(string(b))
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		var l legacyDuration
		if err := node.Decode(&l); err != nil {
			return err
		}
		*d = l.duration()
		return nil
	case yaml.ScalarNode:
		if node.ShortTag() == "!!null" {
			return nil
		}
		v, err := parseDurationText(node.Value)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}
	return fmt.Errorf("line %d: cannot read duration from %s", node.Line, node.ShortTag())
}

// The channel decoders pre-fill the default cooldown so an absent field and
// an explicit "0s" stay distinguishable.

func (c *ChannelConfig) UnmarshalJSON(b []byte) error {
	type rawChannel ChannelConfig
	raw := rawChannel{Cooldown: Duration(DefaultCooldown)}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = ChannelConfig(raw)
	return nil
}

func (c *ChannelConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawChannel ChannelConfig
	raw := rawChannel{Cooldown: Duration(DefaultCooldown)}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*c = ChannelConfig(raw)
	return nil
}
