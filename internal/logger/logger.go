package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for task log files
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// TimeLayout is the timestamp prefix of every task log line.
const TimeLayout = "2006-01-02T15:04:05-0700"

// Config describes rotation of the per-task log file. Rotation parameters
// follow lumberjack semantics.
type Config struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// FileWriter returns an appending, rotating writer for path. The parent
// directory must already exist.
func (c Config) FileWriter(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   filepath.Clean(path),
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Options selects the sinks of the supervisor logger.
type Options struct {
	Debug   bool
	Console io.Writer // usually os.Stderr; nil disables console output
	File    io.Writer // task log; nil disables file output
}

// New builds the supervisor logger. The console only shows warnings unless
// Debug is set; the task log records info and above.
func New(o Options) *slog.Logger {
	var hs fanout
	if o.Console != nil {
		lvl := slog.LevelWarn
		if o.Debug {
			lvl = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: lvl}
		if isTerminal(o.Console) {
			hs = append(hs, NewColorTextHandler(o.Console, opts, true))
		} else {
			hs = append(hs, slog.NewTextHandler(o.Console, opts))
		}
	}
	if o.File != nil {
		lvl := slog.LevelInfo
		if o.Debug {
			lvl = slog.LevelDebug
		}
		hs = append(hs, slog.NewTextHandler(o.File, &slog.HandlerOptions{
			Level: lvl,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if len(groups) == 0 && a.Key == slog.TimeKey {
					return slog.String(slog.TimeKey, a.Value.Time().Format(TimeLayout))
				}
				return a
			},
		}))
	}
	if len(hs) == 0 {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(hs) == 1 {
		return slog.New(hs[0])
	}
	return slog.New(hs)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
