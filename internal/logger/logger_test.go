package logger

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// resetLogger resets the logger to default state for test isolation
func resetLogger() {
	Init(Options{})
}

// --- Level Tests ---

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		emit    func()
		message string
		want    bool
	}{
		{"info at default", Options{}, func() { Info("info line") }, "info line", true},
		{"debug hidden at default", Options{}, func() { Debug("debug line") }, "debug line", false},
		{"debug shown when enabled", Options{Debug: true}, func() { Debug("debug line") }, "debug line", true},
		{"warn hidden when quiet", Options{Quiet: true}, func() { Warn("warn line") }, "warn line", false},
		{"error shown when quiet", Options{Quiet: true}, func() { Error("error line") }, "error line", true},
		{"quiet overrides debug", Options{Debug: true, Quiet: true}, func() { Debug("debug line") }, "debug line", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			opts := tt.opts
			opts.Output = buf
			Init(opts)
			defer resetLogger()

			tt.emit()

			if got := strings.Contains(buf.String(), tt.message); got != tt.want {
				t.Errorf("logged = %v, want %v (output %q)", got, tt.want, buf.String())
			}
		})
	}
}

// --- Format Tests ---

func TestInit_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{JSON: true, Output: buf})
	defer resetLogger()

	Info("listing extracted", "count", 3)

	output := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("expected JSON output, got %q", output)
	}
	if !strings.Contains(output, `"count":3`) {
		t.Errorf("expected structured count attribute, got %q", output)
	}
}

func TestWith_CarriesAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Output: buf})
	defer resetLogger()

	With("run_id", "abc123").Info("run started")

	if !strings.Contains(buf.String(), "run_id=abc123") {
		t.Errorf("expected run_id attribute, got %q", buf.String())
	}
}

func TestContextVariants(t *testing.T) {
	buf := &bytes.Buffer{}
	Init(Options{Debug: true, Output: buf})
	defer resetLogger()

	ctx := context.Background()
	DebugContext(ctx, "debug ctx")
	InfoContext(ctx, "info ctx")
	WarnContext(ctx, "warn ctx")
	ErrorContext(ctx, "error ctx")

	for _, msg := range []string{"debug ctx", "info ctx", "warn ctx", "error ctx"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("expected %q in output", msg)
		}
	}
}

// --- File Sink Tests ---

func TestInit_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatcrawler.log")
	buf := &bytes.Buffer{}
	Init(Options{Output: buf, File: FileOptions{Path: path, MaxSizeMB: 1}})

	Warn("wait selector timed out", "selector", "div.dynamic-section")

	if err := Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	resetLogger()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "wait selector timed out") {
		t.Errorf("expected message in log file, got %q", string(data))
	}
	if !strings.Contains(buf.String(), "wait selector timed out") {
		t.Error("expected message on console output as well")
	}
}

func TestClose_WithoutFileIsNoop(t *testing.T) {
	Init(Options{Output: &bytes.Buffer{}})
	defer resetLogger()

	if err := Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
