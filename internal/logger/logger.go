package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

// Level represents the log level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Entry represents a structured log entry
type Entry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Component string                 `json:"component,omitempty"`
	Error     *ErrorDetails          `json:"error,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
}

// ErrorDetails contains structured error information
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// Config configures a Logger. Nil Output means stdout; nil Redactor means
// DefaultRedactor.
type Config struct {
	Output    io.Writer
	Level     Level
	Component string
	Redactor  *Redactor
}

// Logger provides structured logging
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	level     Level
	component string
	redactor  *Redactor
}

// global default logger
var defaultLogger = New(&Config{Output: os.Stdout, Level: LevelInfo})

// New creates a new logger
func New(cfg *Config) *Logger {
	if cfg == nil {
		cfg = &Config{}
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	r := cfg.Redactor
	if r == nil {
		r = DefaultRedactor()
	}
	return &Logger{
		mu:        &sync.Mutex{},
		output:    out,
		level:     cfg.Level,
		component: cfg.Component,
		redactor:  r,
	}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// WithComponent creates a new logger with the specified component name.
// The returned logger shares the output lock of its parent.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		level:     l.level,
		component: component,
		redactor:  l.redactor,
	}
}

// WithRequestID attaches a request (or task) id that every entry logged with
// the returned context will carry.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return apperrors.WithRequestID(ctx, requestID)
}

// log writes a log entry
func (l *Logger) log(ctx context.Context, level Level, msg string, fields map[string]interface{}, err error) {
	if level < l.level {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   l.redactor.Redact(msg),
		RequestID: apperrors.GetRequestID(ctx),
		Component: l.component,
		Fields:    l.redactor.RedactFields(fields),
	}

	// Add caller info for errors
	if level >= LevelError {
		_, file, line, ok := runtime.Caller(2)
		if ok {
			parts := strings.Split(file, "/")
			if len(parts) > 2 {
				file = strings.Join(parts[len(parts)-2:], "/")
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	if err != nil {
		// Transport errors embed request URLs, which carry the bot token.
		entry.Error = &ErrorDetails{
			Message: l.redactor.Redact(err.Error()),
		}

		if appErr, ok := apperrors.As(err); ok {
			entry.Error.Code = appErr.Code
			entry.Error.Category = string(appErr.Category)
		}

		if level >= LevelError {
			entry.Error.StackTrace = getStackTrace()
		}
	}

	data, mErr := json.Marshal(entry)
	if mErr != nil {
		data, _ = json.Marshal(Entry{
			Timestamp: entry.Timestamp,
			Level:     entry.Level,
			Message:   entry.Message,
			RequestID: entry.RequestID,
			Component: entry.Component,
			Error:     entry.Error,
			Caller:    entry.Caller,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write(append(data, '\n'))
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelDebug, msg, first(fields), nil)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelInfo, msg, first(fields), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(ctx, LevelWarn, msg, first(fields), nil)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	l.log(ctx, LevelError, msg, first(fields), err)
}

func first(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	defaultLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...map[string]interface{}) {
	defaultLogger.Error(ctx, msg, err, fields...)
}

// getStackTrace returns a stack trace string
func getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
