// Package logger is the process-wide structured logger.
//
// It keeps a printf-style call surface for service code ("[Component.Method] ...")
// while writing JSON lines through zerolog.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelFatal:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel parses a string level to Level
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger wraps a zerolog.Logger with printf-style methods.
type Logger struct {
	zl    zerolog.Logger
	level Level
}

// Config for logger
type Config struct {
	Level   Level
	Output  io.Writer
	Service string
	// Pretty switches to zerolog's console writer (local development).
	Pretty bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the default logger. Only the first call has an effect.
func Init(cfg Config) {
	once.Do(func() {
		defaultLogger = New(cfg)
	})
}

// Default returns the default logger
func Default() *Logger {
	if defaultLogger == nil {
		Init(Config{Level: LevelInfo, Output: os.Stdout, Service: "mailmirror"})
	}
	return defaultLogger
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if cfg.Service == "" {
		cfg.Service = "mailmirror"
	}

	zl := zerolog.New(out).
		Level(cfg.Level.zerolog()).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()

	return &Logger{zl: zl, level: cfg.Level}
}

// Component returns a zerolog.Logger tagged with a component name, for code
// that prefers zerolog's builder API (worker pool, stream consumer).
func Component(name string) zerolog.Logger {
	return Default().zl.With().Str("component", name).Logger()
}

// Zerolog exposes the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger(), level: l.level}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	if len(fields) == 0 {
		return l
	}
	return &Logger{zl: l.zl.With().Fields(fields).Logger(), level: l.level}
}

type ctxKey string

// Context keys recognised by WithContext.
const (
	RequestIDKey ctxKey = "request_id"
	AccountIDKey ctxKey = "account_id"
)

// WithContext extracts request_id and account_id from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := make(map[string]any, 2)
	if reqID := ctx.Value(RequestIDKey); reqID != nil {
		fields["request_id"] = reqID
	}
	if accountID := ctx.Value(AccountIDKey); accountID != nil {
		fields["account_id"] = fmt.Sprintf("%v", accountID)
	}
	return l.WithFields(fields)
}

// WithError adds error information
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zl: l.zl.With().Err(err).Logger(), level: l.level}
}

// WithDuration adds duration in milliseconds
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.WithField("duration_ms", float64(d.Microseconds())/1000.0)
}

func (l *Logger) log(level Level, msg string, args ...any) {
	if level < l.level {
		return
	}
	ev := l.zl.WithLevel(level.zerolog())
	if level >= LevelError {
		ev = ev.Caller(2)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	ev.Msg(msg)
}

// Log methods
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }
func (l *Logger) Fatal(msg string, args ...any) {
	l.log(LevelFatal, msg, args...)
	os.Exit(1)
}

// Package-level functions using default logger
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
func Fatal(msg string, args ...any) { Default().Fatal(msg, args...) }

func WithField(key string, value any) *Logger  { return Default().WithField(key, value) }
func WithFields(fields map[string]any) *Logger { return Default().WithFields(fields) }
func WithContext(ctx context.Context) *Logger  { return Default().WithContext(ctx) }
func WithError(err error) *Logger              { return Default().WithError(err) }
func WithDuration(d time.Duration) *Logger     { return Default().WithDuration(d) }
