// Package external fetches single lines of text from HTTP providers for
// External responses.
package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/hatbot/rules"
	"github.com/onnwee/hatbot/telemetry"
)

// maxBody caps how much of a provider response is read.
const maxBody = 64 << 10

// DefaultTimeout bounds one fetch when the client is built with timeout <= 0.
const DefaultTimeout = 5 * time.Second

// Builtins are always available unless a rules document provider reuses the id.
var Builtins = []rules.ProviderConfig{
	{
		ID:      "dadjoke",
		URL:     "https://icanhazdadjoke.com/",
		Field:   "joke",
		Headers: map[string]string{"Accept": "application/json"},
	},
	{
		ID:      "jod",
		URL:     "https://api.jokes.one/jod",
		Field:   "contents.jokes.0.joke.text",
		Headers: map[string]string{"Accept": "application/json"},
	},
}

// ErrEmptyLine is returned when a provider answered but yielded no text.
var ErrEmptyLine = errors.New("provider returned no text")

// Client implements rules.LineFetcher over HTTP.
type Client struct {
	providers  map[string]rules.ProviderConfig
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// NewClient indexes the built-ins and then providers, so later entries win.
// A nil httpClient means http.DefaultClient.
func NewClient(providers []rules.ProviderConfig, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		providers:  make(map[string]rules.ProviderConfig, len(Builtins)+len(providers)),
		httpClient: httpClient,
		timeout:    timeout,
		userAgent:  "hatbot (+https://github.com/onnwee/hatbot)",
	}
	for _, p := range Builtins {
		c.providers[p.ID] = p
	}
	for _, p := range providers {
		c.providers[p.ID] = p
	}
	return c
}

// Has reports whether source names a known provider.
func (c *Client) Has(source string) bool {
	_, ok := c.providers[source]
	return ok
}

// FetchLine requests the provider's URL and extracts one line of text. Every
// failure is an *rules.ExternalFetchError.
func (c *Client) FetchLine(ctx context.Context, source string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "hatbot/external", "external.fetch", attribute.String("source", source))
	defer span.End()

	start := time.Now()
	line, err := c.fetch(ctx, source)
	telemetry.ObserveExternalFetch(source, err, time.Since(start))
	if err != nil {
		err = &rules.ExternalFetchError{Source: source, Err: err}
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.SetSpanSuccess(span)
	return line, nil
}

func (c *Client) fetch(ctx context.Context, source string) (string, error) {
	p, ok := c.providers[source]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", source)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, truncate(strings.TrimSpace(string(body)), 200))
	}
	return extract(body, p.Field)
}

// extract pulls the text out of body. With a gjson path the body must be JSON
// and the path must resolve; otherwise the first non-blank line is used.
func extract(body []byte, field string) (string, error) {
	var text string
	if field != "" {
		if !gjson.ValidBytes(body) {
			return "", errors.New("response is not valid JSON")
		}
		res := gjson.GetBytes(body, field)
		if !res.Exists() {
			return "", fmt.Errorf("field %q not found", field)
		}
		text = res.String()
	} else {
		for _, l := range strings.Split(string(body), "\n") {
			if strings.TrimSpace(l) != "" {
				text = l
				break
			}
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "", ErrEmptyLine
	}
	return text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
