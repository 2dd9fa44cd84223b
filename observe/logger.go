package observe

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Logger is a minimal structured logging interface.
//
// Implementations are safe for concurrent use and never panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// WithProvider returns a logger that tags every entry with meta.
	WithProvider(meta ProviderMeta) Logger

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field is a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for Field{Key: key, Value: value}.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err returns an "error" field, or a nil-valued one for a nil err.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// LogLevel is a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a level name, defaulting to info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

type structuredLogger struct {
	level LogLevel
	out   *sink
	attrs map[string]any
}

// NewLogger returns a JSON logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter returns a JSON logger writing one object per line
// to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &structuredLogger{
		level: ParseLogLevel(level),
		out:   &sink{w: w},
		attrs: map[string]any{},
	}
}

func (l *structuredLogger) derive(extra map[string]any) *structuredLogger {
	attrs := make(map[string]any, len(l.attrs)+len(extra))
	for k, v := range l.attrs {
		attrs[k] = v
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &structuredLogger{level: l.level, out: l.out, attrs: attrs}
}

func (l *structuredLogger) WithProvider(meta ProviderMeta) Logger {
	extra := map[string]any{"provider.id": meta.ID}
	if meta.Vendor != "" {
		extra["provider.vendor"] = meta.Vendor
	}
	if meta.Address != "" {
		extra["provider.address"] = meta.Address
	}
	if meta.Model != "" {
		extra["model"] = meta.Model
	}
	return l.derive(extra)
}

func (l *structuredLogger) With(fields ...Field) Logger {
	extra := make(map[string]any, len(fields))
	for _, f := range fields {
		extra[f.Key] = redact(f)
	}
	return l.derive(extra)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *structuredLogger) log(_ context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.attrs)+len(fields)+3)
	for k, v := range l.attrs {
		entry[k] = v
	}
	for _, f := range fields {
		entry[f.Key] = redact(f)
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.out.mu.Lock()
	_, _ = l.out.w.Write(data)
	l.out.mu.Unlock()
}

func redact(f Field) any {
	for _, k := range RedactedFields {
		if f.Key == k {
			return "[REDACTED]"
		}
	}
	return f.Value
}

type nopLogger struct{}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) Info(context.Context, string, ...Field)  {}
func (nopLogger) Warn(context.Context, string, ...Field)  {}
func (nopLogger) Error(context.Context, string, ...Field) {}
func (nopLogger) Debug(context.Context, string, ...Field) {}
func (n nopLogger) WithProvider(ProviderMeta) Logger      { return n }
func (n nopLogger) With(...Field) Logger                  { return n }
