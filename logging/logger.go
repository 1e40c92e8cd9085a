package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/blockberries/promiseberry/types"
)

// Logger is a structured logger interface for promiseberry.
// It wraps slog.Logger with convenience methods for common logging patterns.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a new Logger with text output format.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new Logger with JSON output format.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewJSONHandler(w, opts))
}

// NewDevelopmentLogger creates a logger suitable for development.
// Uses text format with debug level output to stderr.
func NewDevelopmentLogger() *Logger {
	return NewTextLogger(os.Stderr, slog.LevelDebug)
}

// NewProductionLogger creates a logger suitable for production.
// Uses JSON format with info level output to stdout.
func NewProductionLogger() *Logger {
	return NewJSONLogger(os.Stdout, slog.LevelInfo)
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() *Logger {
	return New(nopHandler{})
}

// With returns a new Logger with the given attributes added to every log entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// WithComponent returns a new Logger with a component attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithOrigin returns a new Logger with an origin attribute.
func (l *Logger) WithOrigin(o types.Origin) *Logger {
	return l.With(Origin(o))
}

// WithPromise returns a new Logger with a promise attribute.
func (l *Logger) WithPromise(id types.PromiseID) *Logger {
	return l.With(Promise(id))
}

// Common attribute constructors for promise-specific fields.

// Component creates a component attribute for identifying the source module.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Promise creates a promise identifier attribute.
func Promise(id types.PromiseID) slog.Attr {
	return slog.String("promise", id.Short())
}

// Chained creates a chained promise identifier attribute.
func Chained(id types.PromiseID) slog.Attr {
	return slog.String("chained", id.Short())
}

// Nested creates a nested target identifier attribute.
func Nested(id types.PromiseID) slog.Attr {
	return slog.String("nested", id.Short())
}

// Origin creates an origin attribute.
func Origin(o types.Origin) slog.Attr {
	return slog.String("origin", string(o))
}

// Resolver creates a resolver principal attribute.
func Resolver(p types.Principal) slog.Attr {
	return slog.String("resolver", string(p))
}

// Sender creates a sender principal attribute.
func Sender(p types.Principal) slog.Attr {
	return slog.String("sender", string(p))
}

// Status creates a promise status attribute.
func Status(s types.Status) slog.Attr {
	return slog.String("status", s.String())
}

// DispatchKey creates a dispatch key attribute.
func DispatchKey(key string) slog.Attr {
	return slog.String("dispatch_key", key)
}

// Action creates a handle action attribute.
func Action(name string) slog.Attr {
	return slog.String("action", name)
}

// Depth creates a nesting depth attribute.
func Depth(d int) slog.Attr {
	return slog.Int("depth", d)
}

// Children creates an unresolved child count attribute.
func Children(n int) slog.Attr {
	return slog.Int("unresolved_children", n)
}

// Nonce creates a nonce attribute.
func Nonce(n uint64) slog.Attr {
	return slog.Uint64("nonce", n)
}

// Count creates a count attribute.
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Size creates a size attribute in bytes.
func Size(n int) slog.Attr {
	return slog.Int("size_bytes", n)
}

// Duration creates a duration attribute in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Reason creates a reason attribute.
func Reason(r string) slog.Attr {
	return slog.String("reason", r)
}

// nopHandler is a slog.Handler that discards all logs.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
