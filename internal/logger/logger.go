package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes engine log output. When File is set the log is written
// there with lumberjack rotation; otherwise it goes to stderr. Color only
// applies to the console destination.
type Config struct {
	Level      string `mapstructure:"level"`       // debug|info|warn|error (default info)
	File       string `mapstructure:"file"`        // rotated log file path; empty means stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"` // backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Color      bool   `mapstructure:"color"`
	JSON       bool   `mapstructure:"json"`
}

// ParseLevel maps a config string onto a slog level. Unknown values fall
// back to info.
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

// Writer returns the configured log destination. The returned closer is nil
// when writing to stderr.
func (c Config) Writer() (io.Writer, io.Closer) {
	if c.File == "" {
		return os.Stderr, nil
	}
	w := &lj.Logger{
		Filename:   c.File,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
	return w, w
}

// Setup builds a slog.Logger from the config and installs it as the default.
// The returned closer flushes the rotated file and may be nil.
func Setup(c Config) (*slog.Logger, io.Closer) {
	w, closer := c.Writer()
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Level)}
	var h slog.Handler
	switch {
	case c.JSON:
		h = slog.NewJSONHandler(w, opts)
	case c.Color && c.File == "":
		h = NewColorTextHandler(w, opts)
	default:
		h = slog.NewTextHandler(w, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l, closer
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
