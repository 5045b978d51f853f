// Package logging implements the §4.7 logger hooks: a single sink consumed
// by every component, writing to stdout, an optional rotating file, and an
// optional websocket broadcaster, gated by a 5-level scheme.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the §4.7 5-level scheme: silent=0, error=1, warning=2, notice=3, verbose=4.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarning
	LevelNotice
	LevelVerbose
)

// ParseLevel maps the configured string onto a Level. Unrecognized values
// fall back to LevelNotice, the service's default verbosity.
func ParseLevel(s string) Level {
	switch s {
	case "silent":
		return LevelSilent
	case "error":
		return LevelError
	case "warning":
		return LevelWarning
	case "notice":
		return LevelNotice
	case "verbose":
		return LevelVerbose
	default:
		return LevelNotice
	}
}

func (l Level) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarning:
		return slog.LevelWarn
	case LevelNotice:
		return slog.LevelInfo
	case LevelVerbose:
		return slog.LevelDebug
	default:
		return slog.LevelError
	}
}

// Sink receives every emitted record in addition to the slog handler chain;
// used by the websocket broadcaster so active viewers see live log lines.
type Sink interface {
	Write(level Level, msg string, args ...any)
}

// Config configures the logger and its sinks.
type Config struct {
	Level           string
	Format          string // json, text
	FilePath        string // empty disables the rotating file sink
	MaxSizeMB       int
	MaxBackups      int
	MaxAgeDays      int
	Compress        bool
	WebsocketSink   Sink // nil disables the websocket sink
}

// Logger wraps a *slog.Logger with the configured level gate and an
// optional broadcast sink, matching the contract every component in the
// export pipeline logs through.
type Logger struct {
	slog  *slog.Logger
	level Level
	sink  Sink
}

var Log *Logger

// Init initializes the package-level Log with stdout-only output at the
// given level, mirroring the one-argument convenience constructor the
// teacher's logger package exposes.
func Init(level string) {
	InitWithConfig(Config{Level: level, Format: "json"})
}

// InitWithConfig initializes the package-level Log with the full sink set.
func InitWithConfig(cfg Config) {
	Log = New(cfg)
}

// New builds a standalone Logger; used by tests and by callers that do not
// want to touch the package-level singleton.
func New(cfg Config) *Logger {
	lvl := ParseLevel(cfg.Level)

	writers := []io.Writer{os.Stdout}
	if cfg.FilePath != "" {
		dir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(dir, 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAgeDays,
				Compress:   cfg.Compress,
			})
		}
	}

	opts := &slog.HandlerOptions{
		Level:     lvl.slogLevel(),
		AddSource: lvl == LevelVerbose,
	}

	var handler slog.Handler
	dest := io.MultiWriter(writers...)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(dest, opts)
	} else {
		handler = slog.NewJSONHandler(dest, opts)
	}

	return &Logger{
		slog:  slog.New(handler),
		level: lvl,
		sink:  cfg.WebsocketSink,
	}
}

// WithContext returns a child logger carrying contextual attributes.
func (l *Logger) WithContext(_ context.Context, args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), level: l.level, sink: l.sink}
}

// WithRequestID tags every subsequent record with the request id.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{slog: l.slog.With("request_id", requestID), level: l.level, sink: l.sink}
}

func (l *Logger) emit(level Level, msg string, args ...any) {
	if l.level < level {
		return
	}
	switch level {
	case LevelError:
		l.slog.Error(msg, args...)
	case LevelWarning:
		l.slog.Warn(msg, args...)
	case LevelNotice:
		l.slog.Info(msg, args...)
	case LevelVerbose:
		l.slog.Debug(msg, args...)
	}
	if l.sink != nil {
		l.sink.Write(level, msg, args...)
	}
}

// Verbose logs at the lowest-priority level, gated out by default.
func (l *Logger) Verbose(msg string, args ...any) { l.emit(LevelVerbose, msg, args...) }

// Notice logs routine operational events (the default level).
func (l *Logger) Notice(msg string, args ...any) { l.emit(LevelNotice, msg, args...) }

// Warning logs recoverable faults (worker recycled, pool refilled below min).
func (l *Logger) Warning(msg string, args ...any) { l.emit(LevelWarning, msg, args...) }

// Error logs surfaced failures.
func (l *Logger) Error(msg string, args ...any) { l.emit(LevelError, msg, args...) }

// Fatal logs at error level and terminates the process with exit code 1,
// per §6's exit code contract.
func (l *Logger) Fatal(msg string, args ...any) {
	l.emit(LevelError, msg, args...)
	os.Exit(1)
}
