package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewWriterProdEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "prod", slog.LevelInfo, "weather-inference")
	logger.Debug("hidden")
	logger.Info("forecast run started", "run_id", "r1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["app"] != "weather-inference" || rec["env"] != "prod" || rec["run_id"] != "r1" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewWriterDevIsText(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "dev", slog.LevelDebug, "forecast").Debug("step completed", "step", 2)
	out := buf.String()
	if !strings.Contains(out, "step completed") || !strings.Contains(out, "forecast") {
		t.Fatalf("unexpected output %q", out)
	}
}
