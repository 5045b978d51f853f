package logging

import (
	"context"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"silent", LevelSilent},
		{"error", LevelError},
		{"warning", LevelWarning},
		{"notice", LevelNotice},
		{"verbose", LevelVerbose},
		{"unknown", LevelNotice},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInit(t *testing.T) {
	for _, level := range []string{"silent", "error", "warning", "notice", "verbose", "unknown"} {
		Init(level)
		if Log == nil {
			t.Errorf("Init(%s) should set Log", level)
		}
	}
}

func TestInitWithConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"json format", Config{Level: "notice", Format: "json"}},
		{"text format", Config{Level: "verbose", Format: "text"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitWithConfig(tt.cfg)
			if Log == nil {
				t.Error("Log should not be nil")
			}
		})
	}
}

func TestNew_FileSink(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	log := New(Config{Level: "notice", Format: "json", FilePath: logPath, MaxSizeMB: 1, MaxBackups: 1, MaxAgeDays: 1})
	if log == nil {
		t.Fatal("New should not return nil")
	}
	log.Notice("test message")
}

type recordingSink struct {
	records []string
}

func (s *recordingSink) Write(level Level, msg string, args ...any) {
	s.records = append(s.records, msg)
}

func TestLoggerLevelGate(t *testing.T) {
	sink := &recordingSink{}
	log := New(Config{Level: "warning", Format: "json", WebsocketSink: sink})

	log.Verbose("should be gated out")
	log.Notice("should be gated out too")
	log.Warning("should pass")
	log.Error("should pass")

	if len(sink.records) != 2 {
		t.Fatalf("expected 2 records past the warning gate, got %d: %v", len(sink.records), sink.records)
	}
}

func TestWithContextAndRequestID(t *testing.T) {
	log := New(Config{Level: "verbose", Format: "json"})

	child := log.WithContext(context.Background(), "component", "engine")
	if child == nil {
		t.Fatal("WithContext should return a logger")
	}
	child.Notice("from child")

	tagged := log.WithRequestID("req-123")
	if tagged == nil {
		t.Fatal("WithRequestID should return a logger")
	}
	tagged.Notice("tagged message")
}

func TestLoggingFunctionsDoNotPanic(t *testing.T) {
	log := New(Config{Level: "verbose", Format: "json"})
	log.Verbose("verbose", "key", "value")
	log.Notice("notice", "key", "value")
	log.Warning("warning", "key", "value")
	log.Error("error", "key", "value")
}
