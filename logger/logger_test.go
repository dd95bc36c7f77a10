package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnask.log")
	log, err := New(Options{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info("model trained")
	log.Debug("hidden")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "model trained") {
		t.Fatalf("expected message in log file, got %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatal("debug message should be filtered at info level")
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected invalid level error")
	}
	if _, err := New(Options{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected invalid format error")
	}
}
