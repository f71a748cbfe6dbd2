package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a serialized form of the rules document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the document format from the file extension. Anything
// that is not .json is treated as YAML.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes and builds a rules document. Unknown fields are ignored and
// absent ones take their defaults, but a document must define at least one
// channel: an empty file or a misspelled top-level key is an error, not a bot
// that answers nothing.
func Parse(data []byte, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse json: %w", err)}
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("parse yaml: %w", err)}
		}
	default:
		return nil, &ConfigError{Err: fmt.Errorf("unknown format %q", format)}
	}
	if err := cfg.Build(); err != nil {
		return nil, err
	}
	if len(cfg.Channels) == 0 {
		return nil, &ConfigError{Err: noChannelsError(data)}
	}
	return &cfg, nil
}

// noChannelsError names the likely cause of a document without channels.
// YAML is a superset of JSON, so one decoder covers both forms.
func noChannelsError(data []byte) error {
	var top map[string]any
	_ = yaml.Unmarshal(data, &top)
	if _, ok := top["bots"]; ok {
		return errors.New(`no channels defined: the "bots"/"handlers"/"user_timeout" layout is not supported, list channels under "channels" with "cooldown" and "actions"`)
	}
	if len(top) == 0 {
		return errors.New("no channels defined: document is empty")
	}
	return errors.New(`no channels defined: expected a top-level "channels" list`)
}

// Marshal encodes cfg in the given format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

// Load reads and builds the rules document at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg, err := Parse(data, FormatForPath(path))
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Save writes cfg to path in the format implied by its extension. The file is
// written to a temporary sibling first and renamed into place.
func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg, FormatForPath(path))
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".rules-*")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace rules: %w", err)
	}
	return nil
}
