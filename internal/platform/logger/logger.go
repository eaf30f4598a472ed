package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type contextKey string

const loggerKey contextKey = "logger"

type Config struct {
	Level   string
	Format  string // "json" or "console"
	Service string
	Version string
}

// New returns a JSON logger at info level.
func New() zerolog.Logger {
	return NewWithConfig(Config{Level: "info", Format: "json"})
}

func NewWithConfig(cfg Config) zerolog.Logger {
	return newLogger(os.Stdout, cfg)
}

// NewWithWriter is used by tests to capture output.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return newLogger(w, Config{Level: "debug", Format: "json"})
}

func newLogger(w io.Writer, cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	out := w
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	lctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Service != "" {
		lctx = lctx.Str("service", cfg.Service)
	}
	if cfg.Version != "" {
		lctx = lctx.Str("version", cfg.Version)
	}
	return lctx.Logger()
}

func WithContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the request-scoped logger, or a disabled logger when none is set.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
			return l
		}
	}
	return zerolog.Nop()
}

func WithFields(l zerolog.Logger, fields map[string]any) zerolog.Logger {
	lctx := l.With()
	for k, v := range fields {
		lctx = lctx.Interface(k, v)
	}
	return lctx.Logger()
}
