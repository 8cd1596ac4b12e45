package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "gatewarden.log"
)

// Level names accepted in configuration.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Output formats for the console handler.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// SlogConfig controls the structured console logger.
type SlogConfig struct {
	Level      string // debug, info, warn, error (default info)
	Format     string // text or json (default text)
	Color      bool   // ANSI level colors for text output
	TimeStamps bool   // include time attribute
	Source     bool   // include source file:line
}

// FileConfig describes the optional rotating log file.
// When Dir is empty no file output is produced.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string // base directory for logs
	Name       string // file name inside Dir (default gatewarden.log)
	MaxSizeMB  int    // megabytes before rotation (default 10)
	MaxBackups int    // number of backups to keep (default 3)
	MaxAgeDays int    // days to keep (default 7)
	Compress   bool   // Gzip rotated files
}

// Config groups console and file logging.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// FileWriter returns the rotating writer for the configured file, or nil when
// file logging is disabled.
func (c Config) FileWriter() io.WriteCloser {
	if c.File.Dir == "" {
		return nil
	}
	name := c.File.Name
	if name == "" {
		name = DefaultFileName
	}
	return &lj.Logger{
		Filename:   filepath.Join(c.File.Dir, filepath.Base(name)),
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewSlogger builds the application logger writing to stdout and, if
// configured, to the rotating file. The file always receives plain text so
// it stays greppable.
func (c Config) NewSlogger() *slog.Logger {
	return c.newSlogger(os.Stdout)
}

func (c Config) newSlogger(console io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(c.Slog.Level),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var consoleHandler slog.Handler
	switch {
	case strings.EqualFold(c.Slog.Format, FormatJSON):
		consoleHandler = slog.NewJSONHandler(console, opts)
	case c.Slog.Color:
		consoleHandler = NewColorTextHandler(console, opts)
	default:
		consoleHandler = slog.NewTextHandler(console, opts)
	}

	fw := c.FileWriter()
	if fw == nil {
		return slog.New(consoleHandler)
	}
	fileOpts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
	return slog.New(fanout{consoleHandler, slog.NewTextHandler(fw, fileOpts)})
}

// ParseLevel maps a level name to slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn, "warning":
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
