package logger

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{in: "debug", want: zapcore.DebugLevel},
		{in: " WARN ", want: zapcore.WarnLevel},
		{in: "warning", want: zapcore.WarnLevel},
		{in: "error", want: zapcore.ErrorLevel},
		{in: "", want: zapcore.InfoLevel},
		{in: "verbose", want: zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Fatalf("parseLevel(%q)=%v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWritesRotatingFile(t *testing.T) {
	dir := t.TempDir()
	log, err := New(Config{
		Level: "debug",
		File: FileConfig{
			Enabled: true,
			Path:    dir,
			Name:    "bridge.log",
		},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	log.Info("julius connected")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "bridge.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file is empty")
	}
}

func TestNewConsoleFormat(t *testing.T) {
	log, err := New(Config{Format: "console", Stdout: true})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if log == nil {
		t.Fatal("New returned nil logger")
	}
}
