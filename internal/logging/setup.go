// Package logging builds the process logger: a size-rotated log file, warnings
// on stderr, and an in-memory ring of recent problems for the logs command.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	FileName = "overai.log"

	maxFileSizeMB = 5
	maxBackups    = 1
)

// ErrUnknownLevel is returned for level names other than debug, info, warn, error.
var ErrUnknownLevel = errors.New("unknown log level")

var (
	goosFn        = func() string { return runtime.GOOS }
	userHomeDirFn = os.UserHomeDir
)

// Options configures Setup.
type Options struct {
	// Dir holds the log file. Empty means DefaultDir(configDir).
	Dir string
	// Level is a config level name. Empty means info.
	Level string
	// Stderr receives warnings and errors. Nil means os.Stderr.
	Stderr io.Writer
	// RingSize bounds the in-memory capture. Zero means DefaultRingSize.
	RingSize int
}

// Logger owns the rotating file and the adjustable level.
type Logger struct {
	*slog.Logger

	level *slog.LevelVar
	ring  *Ring
	file  *lumberjack.Logger
	path  string
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// DefaultDir is ~/Library/Logs/OverAI on macOS and <configDir>/logs elsewhere.
func DefaultDir(configDir string) string {
	if goosFn() == "darwin" {
		if home, err := userHomeDirFn(); err == nil && home != "" {
			return filepath.Join(home, "Library", "Logs", "OverAI")
		}
	}
	return filepath.Join(configDir, "logs")
}

// New builds a Logger without installing it as the slog default.
func New(opts Options) (*Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		return nil, errors.New("logging: log directory required")
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	ringSize := opts.RingSize
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}

	l := &Logger{
		level: new(slog.LevelVar),
		ring:  NewRing(ringSize),
		path:  filepath.Join(opts.Dir, FileName),
	}
	l.level.Set(level)
	l.file = &lumberjack.Logger{
		Filename:   l.path,
		MaxSize:    maxFileSizeMB,
		MaxBackups: maxBackups,
	}

	base := fanout{
		slog.NewTextHandler(l.file, &slog.HandlerOptions{Level: l.level}),
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	l.Logger = slog.New(NewTeeHandler(base, slog.LevelWarn, l.ring.Add))
	return l, nil
}

// Setup builds a Logger and installs it as the slog default.
func Setup(opts Options) (*Logger, error) {
	l, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(l.Logger)
	return l, nil
}

// SetLevel changes the file log level at runtime.
func (l *Logger) SetLevel(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if l.level.Level() != level {
		l.level.Set(level)
		l.Info("[logging] log level changed", "level", level.String())
	}
	return nil
}

// Level reports the current file log level.
func (l *Logger) Level() slog.Level { return l.level.Level() }

// Recent returns up to n recent warn/error lines, oldest first.
func (l *Logger) Recent(n int) []string { return l.ring.Lines(n) }

// Path is the active log file.
func (l *Logger) Path() string { return l.path }

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
