package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/onnwee/hatbot/rules"
)

const sampleRules = `channels:
  - name: client_name
    cooldown: 10s
    actions:
      - trigger: {kind: contains, text: hats}
        response: {kind: static, text: adjust the hats}
      - trigger: {kind: regex, text: "^!joke\\b"}
        response: {kind: external, source: dadjoke}
      - trigger: {kind: contains, text: "bot say:"}
        response: {kind: repeat}
`

func writeRules(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		wantOut string
	}{
		{"valid", sampleRules, "", "ok (1 channels, 3 actions, 0 providers)"},
		{"bad regex", "channels:\n  - name: a\n    actions:\n      - trigger: {kind: regex, text: \"(\"}\n        response: {kind: static, text: x}\n", "invalid trigger pattern", ""},
		{"unknown source", "channels:\n  - name: a\n    actions:\n      - trigger: {kind: contains, text: x}\n        response: {kind: external, source: nowhere}\n", "unknown external source", ""},
		{"empty document", "", "document is empty", ""},
		{"custom provider", "providers:\n  - {id: facts, url: \"https://example.test\", field: fact}\nchannels:\n  - name: a\n    actions:\n      - trigger: {kind: contains, text: x}\n        response: {kind: external, source: facts}\n", "", "1 providers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRules(t, "bots.yaml", tt.body)
			out, err := execute(t, "check", "--config", path)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("check error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("check error = %v", err)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("output = %q, want containing %q", out, tt.wantOut)
			}
		})
	}
}

func TestConvertCommand(t *testing.T) {
	in := writeRules(t, "bots.yaml", sampleRules)
	out := filepath.Join(t.TempDir(), "bots.json")

	if _, err := execute(t, "-c", in, "convert", out); err != nil {
		t.Fatalf("convert error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		t.Errorf("converted file is not JSON: %s", data)
	}

	want, err := rules.Load(in)
	if err != nil {
		t.Fatal(err)
	}
	got, err := rules.Load(out)
	if err != nil {
		t.Fatalf("load converted: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("converted config differs:\n got %+v\nwant %+v", got, want)
	}

	if _, err := execute(t, "-c", in, "convert"); err == nil {
		t.Error("convert without <out> succeeded")
	}
}

func TestDefaultRulesPath(t *testing.T) {
	t.Setenv("RULES_PATH", "")
	if got := defaultRulesPath(); got != "bots.yaml" {
		t.Errorf("defaultRulesPath() = %q, want bots.yaml", got)
	}
	t.Setenv("RULES_PATH", "/etc/hatbot/rules.json")
	if got := defaultRulesPath(); got != "/etc/hatbot/rules.json" {
		t.Errorf("defaultRulesPath() = %q", got)
	}
}

func TestTokenCommandsNeedDatabase(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("ENCRYPTION_KEY", "")
	if _, err := execute(t, "token", "encrypt", "--dry-run"); err == nil || !strings.Contains(err.Error(), "DB_DSN") {
		t.Errorf("token encrypt error = %v, want DB_DSN required", err)
	}
	if _, err := execute(t, "token", "set", "--access-token", "abc", "--skip-validate"); err == nil || !strings.Contains(err.Error(), "DB_DSN") {
		t.Errorf("token set error = %v, want DB_DSN required", err)
	}
	if _, err := execute(t, "token", "set"); err == nil {
		t.Error("token set without --access-token succeeded")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantJSON  bool
		wantWarn  bool
	}{
		{"defaults", "", "", false, false, false},
		{"debug text", "debug", "text", true, false, false},
		{"json", "INFO", "json", false, true, false},
		{"unknown level", "verbose", "", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := newLogger(&buf, tt.level, tt.format)
			l.Debug("debug line")
			l.Info("info line")
			out := buf.String()
			if got := strings.Contains(out, "debug line"); got != tt.wantDebug {
				t.Errorf("debug logged = %v, want %v", got, tt.wantDebug)
			}
			if got := strings.HasPrefix(out, "{"); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v: %s", got, tt.wantJSON, out)
			}
			if got := strings.Contains(out, "unknown LOG_LEVEL"); got != tt.wantWarn {
				t.Errorf("unknown level warning = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}
