//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"overai/internal/config"
)

const socketName = "overai.sock"

// DefaultEndpoint returns the control socket path. OVERAI_SOCKET wins when it
// is an absolute .sock path; otherwise the socket lives in configDir, or in
// config.DefaultDir() when configDir is empty.
func DefaultEndpoint(configDir string) string {
	if v := strings.TrimSpace(os.Getenv("OVERAI_SOCKET")); v != "" {
		if filepath.IsAbs(v) && strings.HasSuffix(v, ".sock") {
			return filepath.Clean(v)
		}
		slog.Warn("[ipc] OVERAI_SOCKET rejected: want an absolute .sock path", "value", v)
	}
	if configDir == "" {
		configDir = config.DefaultDir()
	}
	return filepath.Join(configDir, socketName)
}

func listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		// A socket file nobody answers on is left over from a crash.
		if conn, dialErr := net.DialTimeout("unix", path, 500*time.Millisecond); dialErr == nil {
			_ = conn.Close()
			return nil, errors.New("another instance is listening")
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		slog.Debug("[ipc] removed stale socket", "path", path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}
	return ln, nil
}

func dial(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}

func cleanupEndpoint(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Debug("[ipc] failed to remove socket", "path", path, "error", err)
	}
}

func isPipeNotFound(error) bool { return false }
