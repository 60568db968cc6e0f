// Package crashguard keeps a short crash history so a process that keeps
// dying on startup can refuse to relaunch itself.
package crashguard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"
)

const (
	// FileName is the database file created in the log directory.
	FileName = "history.db"

	DefaultThreshold = 3
	DefaultWindow    = 60 * time.Second

	// maxMessageLen bounds stored panic messages.
	maxMessageLen = 2048
)

const schema = `
CREATE TABLE IF NOT EXISTS crashes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_unix_ms INTEGER NOT NULL,
    kind TEXT NOT NULL,
    message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crashes_ts ON crashes(ts_unix_ms);
`

// ErrCrashLoop is returned by Check when too many crashes happened recently.
var ErrCrashLoop = errors.New("crash loop detected")

// Crash is one recorded abnormal exit.
type Crash struct {
	At      time.Time
	Kind    string
	Message string
}

// History is the SQLite-backed crash log. Safe for concurrent use.
type History struct {
	db        *sql.DB
	threshold int
	window    time.Duration
	nowFn     func() time.Time
}

// Open creates or opens the crash database at path. threshold and window
// fall back to the defaults when not positive.
func Open(path string, threshold int, window time.Duration) (*History, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("crash history path required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create crash history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open crash history: %w", err)
	}
	// One writer; the file is tiny and touched a few times per run.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init crash history schema: %w", err)
	}

	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{db: db, threshold: threshold, window: window, nowFn: time.Now}, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Record stores a crash and prunes entries that fell out of the window.
func (h *History) Record(ctx context.Context, kind, message string) error {
	message = truncateMessage(message, maxMessageLen)
	now := h.nowFn()
	if err := h.prune(ctx, now); err != nil {
		return err
	}
	if _, err := h.db.ExecContext(ctx,
		"INSERT INTO crashes (ts_unix_ms, kind, message) VALUES (?, ?, ?)",
		now.UnixMilli(), kind, message,
	); err != nil {
		return fmt.Errorf("record crash: %w", err)
	}
	slog.Warn("[DEBUG-PANIC] crash recorded", "kind", kind)
	return nil
}

// truncateMessage cuts s to at most n bytes without splitting a rune.
func truncateMessage(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Recent returns the crashes inside the window, oldest first.
func (h *History) Recent(ctx context.Context) ([]Crash, error) {
	cutoff := h.nowFn().Add(-h.window).UnixMilli()
	rows, err := h.db.QueryContext(ctx,
		"SELECT ts_unix_ms, kind, message FROM crashes WHERE ts_unix_ms > ? ORDER BY ts_unix_ms, id",
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query crashes: %w", err)
	}
	defer rows.Close()

	var out []Crash
	for rows.Next() {
		var (
			ms int64
			c  Crash
		)
		if err := rows.Scan(&ms, &c.Kind, &c.Message); err != nil {
			return nil, fmt.Errorf("scan crash: %w", err)
		}
		c.At = time.UnixMilli(ms)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crashes: %w", err)
	}
	return out, nil
}

// IsCrashLoop reports whether at least threshold crashes fall inside the
// window.
func (h *History) IsCrashLoop(ctx context.Context) (bool, error) {
	cutoff := h.nowFn().Add(-h.window).UnixMilli()
	var n int
	if err := h.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM crashes WHERE ts_unix_ms > ?", cutoff,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("count crashes: %w", err)
	}
	return n >= h.threshold, nil
}

// Check returns ErrCrashLoop when the process should not start.
func (h *History) Check(ctx context.Context) error {
	loop, err := h.IsCrashLoop(ctx)
	if err != nil {
		return err
	}
	if loop {
		return fmt.Errorf("%w: %d crashes within %s", ErrCrashLoop, h.threshold, h.window)
	}
	return nil
}

// Reset clears the history after a clean run.
func (h *History) Reset(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, "DELETE FROM crashes"); err != nil {
		return fmt.Errorf("reset crash history: %w", err)
	}
	return nil
}

func (h *History) prune(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-h.window).UnixMilli()
	if _, err := h.db.ExecContext(ctx, "DELETE FROM crashes WHERE ts_unix_ms <= ?", cutoff); err != nil {
		return fmt.Errorf("prune crash history: %w", err)
	}
	return nil
}
