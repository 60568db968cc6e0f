//go:build windows

package ipc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/user"
	"regexp"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"

	"overai/internal/userutil"
)

const defaultPipePrefix = `\\.\pipe\overai-`

var (
	pipeNamePattern = regexp.MustCompile(`(?i)^\\\\\.\\pipe\\overai-[a-z0-9._-]{1,128}$`)
	validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)
)

// DefaultEndpoint returns the per-user named pipe. OVERAI_SOCKET wins when it
// matches the pipe naming pattern. configDir is unused on Windows.
func DefaultEndpoint(string) string {
	if v := strings.TrimSpace(os.Getenv("OVERAI_SOCKET")); v != "" {
		if pipeNamePattern.MatchString(v) {
			return v
		}
		slog.Warn("[ipc] OVERAI_SOCKET rejected: value does not match allowed pattern", "value", v)
	}
	return userutil.ObjectName(defaultPipePrefix)
}

// listen creates a pipe whose DACL grants access to SYSTEM and the current
// user only.
func listen(pipeName string) (net.Listener, error) {
	sd, err := pipeSecurityDescriptor()
	if err != nil {
		return nil, err
	}
	return winio.ListenPipe(pipeName, &winio.PipeConfig{
		SecurityDescriptor: sd,
		InputBufferSize:    int32(maxRequestBytes),
		OutputBufferSize:   int32(maxResponseBytes),
	})
}

func dial(pipeName string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(pipeName, &timeout)
}

func cleanupEndpoint(string) {}

func isPipeNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, winio.ErrTimeout)
}

func pipeSecurityDescriptor() (string, error) {
	current, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if !validSIDPattern.MatchString(sid) {
		return "", fmt.Errorf("current user SID has unexpected format: %q", sid)
	}
	// D:P protected DACL; GA for SYSTEM and the current user.
	return fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid), nil
}
