package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCriticalLevelRendered(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelInfo, "json")

	log.Critical("app: init failed", "err", "boom")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json log line, got %q: %v", buf.String(), err)
	}
	if entry["level"] != "CRITICAL" {
		t.Fatalf("expected CRITICAL level, got %v", entry["level"])
	}
}

func TestBusinessErrorSkipsNil(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelDebug, "text")

	log.BusinessError("binding.bind: conflict", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged for nil error, got %q", buf.String())
	}

	log.BusinessError("binding.bind: conflict", errors.New("pot busy"), "serial", "SN001")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "serial=SN001") {
		t.Fatalf("expected warn entry with attributes, got %q", buf.String())
	}
}

func TestComponentAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, slog.LevelDebug, "text").Component("telemetry")

	log.Info("registry: subscribed")
	if !strings.Contains(buf.String(), "component=telemetry") {
		t.Fatalf("expected component attribute, got %q", buf.String())
	}
}

func TestParseLevelDevelopmentDefaultsToDebug(t *testing.T) {
	if got := parseLevel("", "development"); got != slog.LevelDebug {
		t.Fatalf("expected debug, got %v", got)
	}
	if got := parseLevel("", "production"); got != slog.LevelInfo {
		t.Fatalf("expected info, got %v", got)
	}
	if got := parseLevel("fatal", "production"); got != LevelCritical {
		t.Fatalf("expected critical, got %v", got)
	}
}

func TestParseFormatFallsBackToJSON(t *testing.T) {
	if got := parseFormat("yaml"); got != "json" {
		t.Fatalf("expected json fallback, got %q", got)
	}
	if got := parseFormat(" Text "); got != "text" {
		t.Fatalf("expected text, got %q", got)
	}
}
