// Package observability provides structured logging for the memory engine.
package observability

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// Logger wraps zerolog with memory-engine conventions.
type Logger struct {
	zl zerolog.Logger
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level       string
	Format      string // json or console
	Output      io.Writer
	ServiceName string
}

// NewLogger creates a Logger from the given configuration. Logs go to
// stderr by default so stdout stays clean for --json command output.
func NewLogger(cfg LogConfig) *Logger {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var zl zerolog.Logger
	if cfg.Format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		})
	} else {
		zl = zerolog.New(output)
	}

	zl = zl.With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()

	return &Logger{zl: zl}
}

// DefaultLogger returns a logger suitable for local development.
func DefaultLogger() *Logger {
	return NewLogger(LogConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "memory-engine",
	})
}

// With returns a builder for a child logger with extra fields.
func (l *Logger) With() *LoggerContext {
	return &LoggerContext{ctx: l.zl.With()}
}

// Debug starts a debug-level event.
func (l *Logger) Debug() *LogEvent {
	return &LogEvent{evt: l.zl.Debug()}
}

// Info starts an info-level event.
func (l *Logger) Info() *LogEvent {
	return &LogEvent{evt: l.zl.Info()}
}

// Warn starts a warn-level event.
func (l *Logger) Warn() *LogEvent {
	return &LogEvent{evt: l.zl.Warn()}
}

// Error starts an error-level event.
func (l *Logger) Error() *LogEvent {
	return &LogEvent{evt: l.zl.Error()}
}

// Fatal starts a fatal-level event; sending it exits the process.
func (l *Logger) Fatal() *LogEvent {
	return &LogEvent{evt: l.zl.Fatal()}
}

// WithContext returns a logger carrying the request trace ID, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return &Logger{zl: l.zl.With().Str("trace_id", traceID).Logger()}
	}
	return l
}

// WithComponent returns a logger tagged with an engine component
// (storage, normalizer, embedder, ingestor, tasks).
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger()}
}

// WithOperation returns a logger tagged with a tool operation name.
func (l *Logger) WithOperation(op string) *Logger {
	return &Logger{zl: l.zl.With().Str("operation", op).Logger()}
}

// LoggerContext accumulates fields for a child logger.
type LoggerContext struct {
	ctx zerolog.Context
}

// Str adds a string field.
func (c *LoggerContext) Str(key, val string) *LoggerContext {
	c.ctx = c.ctx.Str(key, val)
	return c
}

// Int adds an int field.
func (c *LoggerContext) Int(key string, val int) *LoggerContext {
	c.ctx = c.ctx.Int(key, val)
	return c
}

// Bool adds a bool field.
func (c *LoggerContext) Bool(key string, val bool) *LoggerContext {
	c.ctx = c.ctx.Bool(key, val)
	return c
}

// Dur adds a duration field.
func (c *LoggerContext) Dur(key string, val time.Duration) *LoggerContext {
	c.ctx = c.ctx.Dur(key, val)
	return c
}

// Logger materializes the child logger.
func (c *LoggerContext) Logger() *Logger {
	return &Logger{zl: c.ctx.Logger()}
}

// LogEvent is a log event being built.
type LogEvent struct {
	evt *zerolog.Event
}

// Str adds a string field.
func (e *LogEvent) Str(key, val string) *LogEvent {
	e.evt = e.evt.Str(key, val)
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(key string, val int) *LogEvent {
	e.evt = e.evt.Int(key, val)
	return e
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(key string, val int64) *LogEvent {
	e.evt = e.evt.Int64(key, val)
	return e
}

// Float64 adds a float64 field.
func (e *LogEvent) Float64(key string, val float64) *LogEvent {
	e.evt = e.evt.Float64(key, val)
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(key string, val bool) *LogEvent {
	e.evt = e.evt.Bool(key, val)
	return e
}

// Strs adds a string slice field.
func (e *LogEvent) Strs(key string, val []string) *LogEvent {
	e.evt = e.evt.Strs(key, val)
	return e
}

// Dur adds a duration field.
func (e *LogEvent) Dur(key string, val time.Duration) *LogEvent {
	e.evt = e.evt.Dur(key, val)
	return e
}

// Err adds an error field.
func (e *LogEvent) Err(err error) *LogEvent {
	e.evt = e.evt.Err(err)
	return e
}

// Interface adds an arbitrary value as a field.
func (e *LogEvent) Interface(key string, val interface{}) *LogEvent {
	e.evt = e.evt.Interface(key, val)
	return e
}

// Msg sends the event with a message.
func (e *LogEvent) Msg(msg string) {
	e.evt.Msg(msg)
}

// Msgf sends the event with a formatted message.
func (e *LogEvent) Msgf(format string, args ...interface{}) {
	e.evt.Msgf(format, args...)
}

// Send sends the event without a message.
func (e *LogEvent) Send() {
	e.evt.Send()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// ContextWithTraceID attaches a trace ID to the context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext extracts the trace ID from the context, if set.
func TraceIDFromContext(ctx context.Context) string {
	if v := ctx.Value(traceIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
