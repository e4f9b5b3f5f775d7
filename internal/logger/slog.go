package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// slogLogger adapts log/slog to the Logger interface.
type slogLogger struct {
	inner *slog.Logger
}

// NewSlogLogger builds a JSON logger writing to w at the given minimum level.
// When tz is non-nil, timestamps are rendered in that location.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	return newSlog(slog.NewJSONHandler(w, handlerOptions(level, tz)))
}

// NewTextLogger builds a human-readable logger for interactive use.
func NewTextLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	return newSlog(slog.NewTextHandler(w, handlerOptions(level, tz)))
}

func newSlog(h slog.Handler) Logger {
	return &slogLogger{inner: slog.New(h)}
}

func handlerOptions(level LogLevel, tz *time.Location) *slog.HandlerOptions {
	opts := &slog.HandlerOptions{Level: toSlogLevel(level)}
	if tz != nil {
		opts.ReplaceAttr = func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				a.Value = slog.TimeValue(a.Value.Time().In(tz))
			}
			return a
		}
	}
	return opts
}

func toSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *slogLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *slogLogger) Info(msg string, fields ...Field) { l.log(slog.LevelInfo, msg, fields) }
func (l *slogLogger) Warn(msg string, fields ...Field) { l.log(slog.LevelWarn, msg, fields) }
func (l *slogLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *slogLogger) With(fields ...Field) Logger {
	return &slogLogger{inner: l.inner.With(toArgs(fields)...)}
}

func (l *slogLogger) Module(name string) Logger {
	return &slogLogger{inner: l.inner.With(slog.String("module", name))}
}

func (l *slogLogger) log(level slog.Level, msg string, fields []Field) {
	ctx := context.Background()
	if !l.inner.Enabled(ctx, level) {
		return
	}
	l.inner.Log(ctx, level, msg, toArgs(fields)...)
}

func toArgs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
