package testutil

import (
	"bytes"
	"log/slog"
	"sync"
	"testing"
)

// CaptureLogBuffer redirects the default slog logger to an in-memory buffer and
// restores the original logger in t.Cleanup. The buffer is safe to read while
// background goroutines are still logging.
func CaptureLogBuffer(t *testing.T, level slog.Level) *SyncBuffer {
	t.Helper()
	originalLogger := slog.Default()
	logBuf := &SyncBuffer{}
	slog.SetDefault(slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() {
		slog.SetDefault(originalLogger)
	})
	return logBuf
}

// SyncBuffer is a bytes.Buffer guarded by a mutex.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
