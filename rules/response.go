package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ResponseKind selects how a Response produces outbound text.
type ResponseKind string

const (
	ResponseStatic   ResponseKind = "static"
	ResponseRepeat   ResponseKind = "repeat"
	ResponseExternal ResponseKind = "external"
)

// RepeatDelimiter separates the command part of a message from the text a
// repeat response echoes back.
const RepeatDelimiter = ":"

// LineFetcher fetches one line of text from a named external source.
type LineFetcher interface {
	FetchLine(ctx context.Context, source string) (string, error)
}

// Response describes what to send when a trigger matches.
type Response struct {
	Kind   ResponseKind `json:"kind" yaml:"kind"`
	Text   string       `json:"text,omitempty" yaml:"text,omitempty"`
	Source string       `json:"source,omitempty" yaml:"source,omitempty"`
}

// Static always sends text.
func Static(text string) Response { return Response{Kind: ResponseStatic, Text: text} }

// Repeat echoes whatever follows the first RepeatDelimiter in the message.
func Repeat() Response { return Response{Kind: ResponseRepeat} }

// External sends a line fetched from source at response time.
func External(source string) Response { return Response{Kind: ResponseExternal, Source: source} }

func (r Response) validate() error {
	switch r.Kind {
	case ResponseStatic, ResponseRepeat:
		return nil
	case ResponseExternal:
		if r.Source == "" {
			return errors.New("external response needs a source")
		}
		return nil
	default:
		return fmt.Errorf("unknown response kind %q", r.Kind)
	}
}

// Produce returns the text to send for message. Only external responses do
// I/O; their failures come back as *ExternalFetchError and the caller must not
// send anything.
func (r Response) Produce(ctx context.Context, message string, fetcher LineFetcher) (string, error) {
	switch r.Kind {
	case ResponseStatic:
		return r.Text, nil
	case ResponseRepeat:
		return repeatText(message), nil
	case ResponseExternal:
		if fetcher == nil {
			return "", &ExternalFetchError{Source: r.Source, Err: errors.New("no line fetcher configured")}
		}
		line, err := fetcher.FetchLine(ctx, r.Source)
		if err != nil {
			var fe *ExternalFetchError
			if errors.As(err, &fe) {
				return "", err
			}
			return "", &ExternalFetchError{Source: r.Source, Err: err}
		}
		return line, nil
	}
	return "", fmt.Errorf("unknown response kind %q", r.Kind)
}

// repeatText drops everything up to the first delimiter and glues the
// remaining fields back together without it. Messages without the delimiter
// are echoed unchanged.
func repeatText(message string) string {
	fields := strings.Split(message, RepeatDelimiter)
	if len(fields) < 2 {
		return strings.TrimSpace(message)
	}
	return strings.TrimSpace(strings.Join(fields[1:], ""))
}

// Equal compares two responses field by field.
func (r Response) Equal(o Response) bool {
	return r.Kind == o.Kind && r.Text == o.Text && r.Source == o.Source
}

func (r Response) String() string {
	switch r.Kind {
	case ResponseStatic:
		return fmt.Sprintf("static(%q)", r.Text)
	case ResponseExternal:
		return fmt.Sprintf("external(%s)", r.Source)
	}
	return string(r.Kind)
}
