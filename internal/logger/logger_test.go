package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextOutputContainsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)
	defer InitWithWriter(&buf, "INFO", "text", false)

	Info("upload complete", "file_id", "abc", "size", 42)

	out := buf.String()
	if !strings.Contains(out, "[INFO] upload complete") {
		t.Fatalf("missing message: %q", out)
	}
	if !strings.Contains(out, "file_id=abc") || !strings.Contains(out, "size=42") {
		t.Fatalf("missing fields: %q", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("hidden")
	Info("hidden too")
	Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug/info leaked at WARN level: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("login", "user_id", "u1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "login" || record["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("NONSENSE")
	Info("still here")

	if !strings.Contains(buf.String(), "still here") {
		t.Fatal("invalid level should not change filtering")
	}
}
