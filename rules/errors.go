package rules

import "fmt"

// ConfigError reports a rules document that could not be read, parsed or
// validated. The bot must not start with a partially loaded rule set.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("rules config: %v", e.Err)
	}
	return fmt.Sprintf("rules config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PatternCompileError reports an invalid regex trigger.
type PatternCompileError struct {
	Pattern string
	Err     error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("invalid trigger pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternCompileError) Unwrap() error { return e.Err }

// ExternalFetchError reports a failed external line fetch. The message that
// triggered it is dropped.
type ExternalFetchError struct {
	Source string
	Err    error
}

func (e *ExternalFetchError) Error() string {
	return fmt.Sprintf("external fetch %q: %v", e.Source, e.Err)
}

func (e *ExternalFetchError) Unwrap() error { return e.Err }
