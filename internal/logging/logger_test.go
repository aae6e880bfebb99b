package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ircgate/internal/logging"
)

func TestNewConsoleWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ircgate.log")
	noColor := false
	logger, err := logging.New(logging.Options{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{path},
		Color:       &noColor,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger = logging.NewComponentLogger(logger, "ipc")
	logger.Info("worker attached", logging.String(logging.FieldPeer, "worker-1"), logging.Int("peers", 2))
	logger.Debug("hidden")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "INFO  ipc: worker attached") {
		t.Fatalf("expected level and component prefix, got %q", out)
	}
	if !strings.Contains(out, "peer=worker-1") || !strings.Contains(out, "peers=2") {
		t.Fatalf("expected key=value attrs, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered at info level: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no ANSI codes when colour disabled: %q", out)
	}
}

func TestNewJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ircgate.json")
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      "json",
		OutputPaths: []string{path},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("dropped")
	logger.Warn("uplink lost", logging.String(logging.FieldRole, "worker"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one json line, got %d: %q", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected lower-case level, got %v", entry["level"])
	}
	if entry["msg"] != "uplink lost" || entry["role"] != "worker" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if logging.ValidFormat("xml") {
		t.Fatal("xml should not be a valid format")
	}
	if !logging.ValidFormat(" JSON ") {
		t.Fatal("json should be valid regardless of case and padding")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logging.WarnWithContext(logger, "rehash failed", "rehash_failed",
		logging.String(logging.FieldErrorHint, "fix the config file"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry[logging.FieldEventType] != "rehash_failed" {
		t.Fatalf("expected event_type default, got %v", entry)
	}
	if entry[logging.FieldErrorHint] != "fix the config file" {
		t.Fatalf("caller error_hint should win, got %v", entry[logging.FieldErrorHint])
	}
	if _, ok := entry[logging.FieldImpact]; !ok {
		t.Fatalf("expected impact default, got %v", entry)
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := logging.NewNop()
	if logger.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("nop logger should not be enabled")
	}
	logging.WarnWithContext(nil, "ignored", "noop")
	logging.NewComponentLogger(nil, "x").Info("ignored")
}
