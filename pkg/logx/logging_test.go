package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestWriterLoggerFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "dispatch"), Group("sales"))
	log.Warn("recipient rejected", Run("r1"), Int("index", 3), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "dispatch" || m["group"] != "sales" || m["run"] != "r1" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["level"] != "warn" {
		t.Fatalf("level = %v, want warn", m["level"])
	}
	if _, ok := m["caller"]; !ok {
		t.Fatalf("missing caller field: %v", m)
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	l.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not be zero")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if got := parseLevel("warning", LevelInfo); got != LevelWarn {
		t.Fatalf("parseLevel(warning) = %v", got)
	}
	if got := parseLevel("nope", LevelError); got != LevelError {
		t.Fatalf("parseLevel(nope) = %v", got)
	}
}

func TestMaskAddress(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"jane@acme.org":   "j***@acme.org",
		"élise@acme.org":  "é***@acme.org",
		"  bob@x.io ":     "b***@x.io",
		"not-an-address":  "***",
		"@acme.org":       "***",
		"":                "",
	}
	for in, want := range cases {
		if got := MaskAddress(in); got != want {
			t.Errorf("MaskAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

// Not parallel: redaction is process-wide and follows the last Apply.
func TestServiceApplyJSONAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	s := &Service{stdout: &buf}
	s.Apply(Config{Level: "info", Console: true, Format: FormatJSON, RedactAddresses: true})
	t.Cleanup(func() { s.Apply(Config{}) })
	log := s.Logger()

	log.Debug("hidden")
	log.Info("message sent", Address("to", "jane@acme.org"))

	line := strings.TrimSpace(buf.String())
	if strings.Count(line, "\n") != 0 {
		t.Fatalf("want one line, got %q", line)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		t.Fatalf("console json: %v (%q)", err, line)
	}
	if m["to"] != "j***@acme.org" {
		t.Fatalf("to = %v, want masked", m["to"])
	}

	buf.Reset()
	s.Apply(Config{Level: "info", Console: true, Format: FormatJSON})
	log.Info("message sent", Address("to", "jane@acme.org"))
	if !strings.Contains(buf.String(), `"to":"jane@acme.org"`) {
		t.Fatalf("redaction should be off: %q", buf.String())
	}
	if got := s.Config().Format; got != FormatJSON {
		t.Fatalf("Config().Format = %q", got)
	}
}
