package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestChildLoggerAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "DEBUG").WithComponent("session").WithGeneration(3)
	log.Info("load started", "files", 2)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding record failed: %v (%s)", err, buf.String())
	}
	if rec["component"] != "session" {
		t.Errorf("component = %v", rec["component"])
	}
	if rec["generation"] != float64(3) {
		t.Errorf("generation = %v", rec["generation"])
	}
	if rec["files"] != float64(2) || rec["msg"] != "load started" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "WARN")
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"Error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := NewLogger(dir, "INFO")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	log.WithComponent("test").Info("hello")
	if log.file == nil {
		t.Fatal("expected logger to hold the log file")
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := log.file.Write([]byte("late\n")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("write after Close = %v, want os.ErrClosed", err)
	}
	if err := log.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("reading log file failed: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing record: %s", data)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var log *Logger
	log.Info("nothing")
	if err := log.Close(); err != nil {
		t.Errorf("Close on nil logger = %v", err)
	}
}
