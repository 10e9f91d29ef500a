// Package logger provides the structured logger carried through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is a leveled structured logger. Tags are slog attributes or
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, tags ...any)
	Info(msg string, tags ...any)
	Warn(msg string, tags ...any)
	Error(msg string, tags ...any)

	Debugf(format string, v ...any)
	Infof(format string, v ...any)
	Warnf(format string, v ...any)
	Errorf(format string, v ...any)

	With(attrs ...any) Logger
	WithGroup(name string) Logger
}

var _ Logger = (*appLogger)(nil)

type appLogger struct {
	logger *slog.Logger
	debug  bool
}

// Config holds logger construction options.
type Config struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
}

// Option configures a Logger.
type Option func(*Config)

// WithDebug sets the level of the logger to debug.
func WithDebug() Option {
	return func(o *Config) {
		o.debug = true
	}
}

// WithFormat sets the format of the logger (text or json).
func WithFormat(format string) Option {
	return func(o *Config) {
		o.format = format
	}
}

// WithWriter adds a second destination, typically a log file.
func WithWriter(w io.Writer) Option {
	return func(o *Config) {
		o.writer = w
	}
}

// WithQuiet suppresses output to stderr.
func WithQuiet() Option {
	return func(o *Config) {
		o.quiet = true
	}
}

var defaultLogger = NewLogger(WithFormat("text"))

// NewLogger builds a Logger that fans out to stderr and the optional writer.
func NewLogger(opts ...Option) Logger {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.debug,
	}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(os.Stderr, cfg.format, handlerOpts))
	}
	if cfg.writer != nil {
		handlers = append(handlers, newGuardedHandler(newHandler(cfg.writer, cfg.format, handlerOpts)))
	}

	return &appLogger{
		logger: slog.New(slogmulti.Fanout(handlers...)),
		debug:  cfg.debug,
	}
}

var _ slog.Handler = (*guardedHandler)(nil)

// guardedHandler serializes writes to a shared writer so concurrent loads
// do not interleave log lines.
type guardedHandler struct {
	handler slog.Handler
	mu      *sync.Mutex
}

func newGuardedHandler(handler slog.Handler) *guardedHandler {
	return &guardedHandler{handler: handler, mu: &sync.Mutex{}}
}

// Enabled implements slog.Handler.
func (s *guardedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (s *guardedHandler) Handle(ctx context.Context, record slog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Handle(ctx, record)
}

// WithAttrs implements slog.Handler.
func (s *guardedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &guardedHandler{handler: s.handler.WithAttrs(attrs), mu: s.mu}
}

// WithGroup implements slog.Handler.
func (s *guardedHandler) WithGroup(name string) slog.Handler {
	return &guardedHandler{handler: s.handler.WithGroup(name), mu: s.mu}
}

func newHandler(w io.Writer, format string, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Debug implements logger.Logger.
func (a *appLogger) Debug(msg string, tags ...any) {
	a.log(slog.LevelDebug, msg, tags...)
}

// Info implements logger.Logger.
func (a *appLogger) Info(msg string, tags ...any) {
	a.log(slog.LevelInfo, msg, tags...)
}

// Warn implements logger.Logger.
func (a *appLogger) Warn(msg string, tags ...any) {
	a.log(slog.LevelWarn, msg, tags...)
}

// Error implements logger.Logger.
func (a *appLogger) Error(msg string, tags ...any) {
	a.log(slog.LevelError, msg, tags...)
}

// Debugf implements logger.Logger.
func (a *appLogger) Debugf(format string, v ...any) {
	a.log(slog.LevelDebug, fmt.Sprintf(format, v...))
}

// Infof implements logger.Logger.
func (a *appLogger) Infof(format string, v ...any) {
	a.log(slog.LevelInfo, fmt.Sprintf(format, v...))
}

// Warnf implements logger.Logger.
func (a *appLogger) Warnf(format string, v ...any) {
	a.log(slog.LevelWarn, fmt.Sprintf(format, v...))
}

// Errorf implements logger.Logger.
func (a *appLogger) Errorf(format string, v ...any) {
	a.log(slog.LevelError, fmt.Sprintf(format, v...))
}

// log records the message with the caller's program counter so the source
// attribute points at the call site rather than this package.
func (a *appLogger) log(level slog.Level, msg string, tags ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}

	var pc uintptr
	if a.debug {
		var pcs [1]uintptr
		// Skip runtime.Callers, log and the Logger method.
		runtime.Callers(3, pcs[:])
		pc = pcs[0]
	}

	record := slog.NewRecord(time.Now(), level, msg, pc)
	record.Add(tags...)
	_ = a.logger.Handler().Handle(context.Background(), record)
}

// With implements logger.Logger.
func (a *appLogger) With(attrs ...any) Logger {
	return &appLogger{logger: a.logger.With(attrs...), debug: a.debug}
}

// WithGroup implements logger.Logger.
func (a *appLogger) WithGroup(name string) Logger {
	return &appLogger{logger: a.logger.WithGroup(name), debug: a.debug}
}
