package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogDir(t *testing.T) {
	dir := DefaultLogDir()
	if dir == "" {
		t.Error("DefaultLogDir returned empty string")
	}

	if !strings.Contains(dir, ".regcopilot") || !strings.Contains(dir, "logs") {
		t.Errorf("DefaultLogDir should contain .regcopilot/logs, got: %s", dir)
	}
}

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "server.log" {
		t.Errorf("DefaultLogPath should end with server.log, got: %s", path)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected level 'info', got: %s", cfg.Level)
	}
	if cfg.Format != "auto" {
		t.Errorf("expected format 'auto', got: %s", cfg.Format)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected MaxSizeMB 10, got: %d", cfg.MaxSizeMB)
	}
	if cfg.MaxFiles != 5 {
		t.Errorf("expected MaxFiles 5, got: %d", cfg.MaxFiles)
	}
	if !cfg.WriteToStderr {
		t.Error("expected WriteToStderr to be true")
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := Config{
		Level:         "debug",
		Format:        "auto",
		FilePath:      logPath,
		MaxSizeMB:     1,
		MaxFiles:      3,
		WriteToStderr: false,
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("test message", "component", "kb")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("log file was not created: %v", err)
	}

	// File-backed auto format is JSON, one object per line.
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v\nline: %s", err, line)
	}
	if entry["msg"] != "test message" {
		t.Errorf("expected msg 'test message', got: %v", entry["msg"])
	}
	if entry["component"] != "kb" {
		t.Errorf("expected component 'kb', got: %v", entry["component"])
	}
}

func TestSetup_NoFileIsStderrOnly(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info", Format: "json"})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	if logger == nil {
		t.Fatal("Setup returned nil logger")
	}
	// Cleanup with no file must be a no-op, not a panic.
	cleanup()
}

func TestSetup_RespectsLevel(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, cleanup, err := Setup(Config{
		Level:     "warn",
		FilePath:  logPath,
		MaxSizeMB: 1,
		MaxFiles:  2,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("quiet")
	logger.Warn("loud")

	data, _ := os.ReadFile(logPath)
	content := string(data)
	if strings.Contains(content, "quiet") {
		t.Error("info entry should be filtered at warn level")
	}
	if !strings.Contains(content, "loud") {
		t.Error("warn entry should be written")
	}
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		format   string
		hasFile  bool
		expected string
	}{
		{"json", false, "json"},
		{"json", true, "json"},
		{"text", false, "text"},
		{"text", true, "text"},
		{"auto", true, "json"},
		{"", true, "json"},
	}

	for _, tc := range tests {
		got := resolveFormat(tc.format, tc.hasFile)
		if got != tc.expected {
			t.Errorf("resolveFormat(%q, %v) = %s, want %s", tc.format, tc.hasFile, got, tc.expected)
		}
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"DEBUG", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"}, // defaults to info
	}

	for _, tc := range tests {
		level := LevelFromString(tc.input)
		if level.String() != tc.expected {
			t.Errorf("LevelFromString(%q) = %s, want %s", tc.input, level.String(), tc.expected)
		}
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "rotate.log")

	// 1 MB max size, 3 rotated files
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	// Write more than 1 MB to force a rotation.
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(logPath + ".1"); os.IsNotExist(err) {
		t.Error("expected rotated file .1 to exist")
	}
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("expected current log file to exist after rotation")
	}
}

func TestRotatingWriter_MaxFilesCap(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "cap.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	chunk := strings.Repeat("y", 256*1024)
	for i := 0; i < 40; i++ {
		if _, err := w.Write([]byte(chunk)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	// Only .1 and .2 may remain.
	for n := 3; n <= 6; n++ {
		over := fmt.Sprintf("%s.%d", logPath, n)
		if _, err := os.Stat(over); err == nil {
			t.Errorf("rotated file beyond cap should be removed: %s", over)
		}
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "concurrent.log")

	w, err := NewRotatingWriter(logPath, 10, 2)
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte(fmt.Sprintf("writer %d line %d\n", id, j)))
			}
		}(i)
	}
	wg.Wait()

	if err := w.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Count(string(data), "\n")
	if lines != 500 {
		t.Errorf("expected 500 lines, got %d", lines)
	}
}

func TestEnsureLogDir(t *testing.T) {
	if err := EnsureLogDir(); err != nil {
		t.Errorf("EnsureLogDir failed: %v", err)
	}
}
