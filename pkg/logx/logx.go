// Package logx is a thin structured-logging layer over zerolog.
//
// The daemon logs to the console (human-readable, timestamp-tagged
// lines) and optionally to an append-only log file. The file sink gets
// the same line format so the on-host log stays greppable.
package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "2006-01-02 15:04:05"

// Config mirrors the logging block of the daemon config.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Field mutates a zerolog event. This mirrors the ergonomics of
// slog.Attr without depending on slog; fields are applied in order and
// later duplicates win.
type Field func(e *zerolog.Event)

func String(k, v string) Field    { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field   { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Logger is a lightweight structured logger.
//
// With() returns a derived logger with additional fixed fields.
// The zero value is a safe no-op logger.
type Logger struct {
	base    zerolog.Logger
	hasBase bool
	closer  io.Closer

	// level is shared by every logger derived from the same New call,
	// so SetLevel on any of them takes effect across the tree.
	level *atomic.Int32

	fields []Field
}

// Nop returns a logger that never writes anything.
func Nop() Logger {
	return Logger{base: zerolog.Nop(), hasBase: true}
}

// New builds a logger from cfg. Opening the file sink lazily creates
// its parent directory. The returned logger must be Closed by the
// process owner when a file sink is enabled.
func New(cfg Config) (Logger, error) {
	lvl := parseLevel(cfg.Level)

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: consoleTimeFormat,
			NoColor:    true,
		})
	}

	var closer io.Closer
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			return Logger{}, fmt.Errorf("logging.file.path is required when file logging is enabled")
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Logger{}, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Logger{}, fmt.Errorf("open log file: %w", err)
		}
		sinks = append(sinks, zerolog.ConsoleWriter{
			Out:        f,
			TimeFormat: consoleTimeFormat,
			NoColor:    true,
		})
		closer = f
	}

	if len(sinks) == 0 {
		return Nop(), nil
	}

	level := &atomic.Int32{}
	level.Store(int32(lvl))
	base := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		With().Timestamp().Logger()
	return Logger{base: base, hasBase: true, closer: closer, level: level}, nil
}

// NewConsole is a convenience for one-shot tools: console sink only.
func NewConsole(level string) Logger {
	l, _ := New(Config{Level: level, Console: true})
	return l
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "", "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetLevel changes the minimum level for this logger and every logger
// derived from it. Called from config hot reload; sinks are untouched.
func (l Logger) SetLevel(level string) {
	if l.level != nil {
		l.level.Store(int32(parseLevel(level)))
	}
}

func (l Logger) enabled(lvl zerolog.Level) bool {
	if !l.hasBase {
		return false
	}
	return l.level == nil || lvl >= zerolog.Level(l.level.Load())
}

// With returns a derived logger with extra fixed fields.
func (l Logger) With(fields ...Field) Logger {
	if !l.hasBase {
		return l
	}
	child := l
	child.fields = append(append([]Field{}, l.fields...), fields...)
	return child
}

func (l Logger) IsZero() bool { return !l.hasBase }

// Close releases the file sink, if any.
func (l Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l Logger) emit(e *zerolog.Event, msg string, fields []Field) {
	for _, f := range l.fields {
		f(e)
	}
	for _, f := range fields {
		f(e)
	}
	e.Msg(msg)
}

func (l Logger) Trace(msg string, fields ...Field) {
	if l.enabled(zerolog.TraceLevel) {
		l.emit(l.base.Trace(), msg, fields)
	}
}

func (l Logger) Debug(msg string, fields ...Field) {
	if l.enabled(zerolog.DebugLevel) {
		l.emit(l.base.Debug(), msg, fields)
	}
}

func (l Logger) Info(msg string, fields ...Field) {
	if l.enabled(zerolog.InfoLevel) {
		l.emit(l.base.Info(), msg, fields)
	}
}

func (l Logger) Warn(msg string, fields ...Field) {
	if l.enabled(zerolog.WarnLevel) {
		l.emit(l.base.Warn(), msg, fields)
	}
}

func (l Logger) Error(msg string, fields ...Field) {
	if l.enabled(zerolog.ErrorLevel) {
		l.emit(l.base.Error(), msg, fields)
	}
}
