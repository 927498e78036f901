// Package logging builds the gateway's slog logger: one console handler plus optional rotating
// info and error files.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"rfm-gateway/internal/config"
)

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns the logger and a closer for the file sinks. The console handler honours cfg.Level;
// the info file takes info and above, the error file error and above.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return build(cfg, os.Stderr)
}

func build(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level)
	var handlers []slog.Handler
	var files closers

	if cfg.JSON {
		handlers = append(handlers, slog.NewJSONHandler(console, &slog.HandlerOptions{Level: level}))
	} else {
		handlers = append(handlers, slog.NewTextHandler(console, &slog.HandlerOptions{Level: level}))
	}

	infoLevel := level
	if infoLevel < slog.LevelInfo {
		infoLevel = slog.LevelInfo
	}
	if w := rotating(cfg, cfg.InfoFile); w != nil {
		files = append(files, w)
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: infoLevel}))
	}
	if w := rotating(cfg, cfg.ErrorFile); w != nil {
		files = append(files, w)
		handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), files
	}
	return slog.New(NewFanout(handlers...)), files
}

func rotating(cfg config.LogConfig, path string) *lumberjack.Logger {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  cfg.MaxSizeMB,
		MaxAge:   cfg.MaxAgeDays,
	}
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, cl := range c {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Fanout dispatches each record to every handler that has its level enabled.
type Fanout struct {
	handlers []slog.Handler
}

func NewFanout(handlers ...slog.Handler) *Fanout {
	return &Fanout{handlers: handlers}
}

func (f *Fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &Fanout{handlers: next}
}

func (f *Fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &Fanout{handlers: next}
}
