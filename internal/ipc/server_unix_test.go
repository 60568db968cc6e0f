//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func shortSocketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to ~104 bytes on macOS.
	dir, err := os.MkdirTemp("", "ovr")
	if err != nil {
		t.Fatalf("MkdirTemp() error = %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, socketName)
}

func startTestServer(t *testing.T, h Handler) *Server {
	t.Helper()
	s := NewServer(shortSocketPath(t), h)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestSendRoundTrip(t *testing.T) {
	m := NewMux()
	m.Handle(CmdStatus, 0, 0, func(context.Context, []string) Response {
		return Response{OK: true, Status: &Status{Visible: true, Service: "grok", Opacity: 0.9}}
	})
	s := startTestServer(t, m)

	resp, err := Send(s.Endpoint(), Request{Command: CmdStatus})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.OK || resp.Status == nil || resp.Status.Service != "grok" || !resp.Status.Visible {
		t.Fatalf("Send() = %+v", resp)
	}

	resp, err = Send(s.Endpoint(), Request{Command: "nope"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp.OK || !strings.Contains(resp.Message, "unknown command") {
		t.Fatalf("unknown command response = %+v", resp)
	}
}

func TestServerRejectsMalformedRequest(t *testing.T) {
	s := startTestServer(t, NewMux())
	conn, err := net.Dial("unix", s.Endpoint())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 512)
	n, _ := conn.Read(buf)
	if !strings.Contains(string(buf[:n]), `"ok":false`) || !strings.Contains(string(buf[:n]), "invalid request") {
		t.Fatalf("response = %s", buf[:n])
	}
}

func TestSocketIsPrivate(t *testing.T) {
	s := startTestServer(t, NewMux())
	info, err := os.Stat(s.Endpoint())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Fatalf("socket mode = %v, want owner-only", perm)
	}
}

func TestStartReplacesStaleSocket(t *testing.T) {
	path := shortSocketPath(t)
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	s := NewServer(path, NewMux())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() over stale socket error = %v", err)
	}
	_ = s.Stop()
}

func TestStartRefusesLiveSocket(t *testing.T) {
	first := startTestServer(t, NewMux())
	second := NewServer(first.Endpoint(), NewMux())
	if err := second.Start(); err == nil {
		_ = second.Stop()
		t.Fatal("second server started on a live socket")
	}
}

func TestStopRemovesSocketAndIsIdempotent(t *testing.T) {
	s := NewServer(shortSocketPath(t), NewMux())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatal("second Start() expected error")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if _, err := os.Stat(s.Endpoint()); !os.IsNotExist(err) {
		t.Fatalf("socket still present after Stop: %v", err)
	}
}

func TestSendWithoutServerIsConnectionError(t *testing.T) {
	_, err := Send(shortSocketPath(t), Request{Command: CmdActivate})
	if !IsConnectionError(err) {
		t.Fatalf("Send() error = %v, want connection error", err)
	}
}

func TestHandlerPanicDoesNotKillServer(t *testing.T) {
	var calls atomic.Int32
	m := NewMux()
	m.Handle(CmdToggle, 0, 0, func(context.Context, []string) Response {
		if calls.Add(1) == 1 {
			panic("controller exploded")
		}
		return Okf("toggled")
	})
	s := startTestServer(t, m)

	if _, err := Send(s.Endpoint(), Request{Command: CmdToggle}); err == nil {
		t.Fatal("Send() to a panicking handler returned a response")
	}
	resp, err := Send(s.Endpoint(), Request{Command: CmdToggle})
	if err != nil || !resp.OK {
		t.Fatalf("Send() after panic = %+v, %v", resp, err)
	}
}

func TestStartRequiresHandler(t *testing.T) {
	s := NewServer(shortSocketPath(t), nil)
	if err := s.Start(); err == nil {
		t.Fatal("Start() without handler expected error")
	}
}

func TestDefaultEndpoint(t *testing.T) {
	t.Setenv("OVERAI_SOCKET", "")
	if got, want := DefaultEndpoint("/cfg"), filepath.Join("/cfg", socketName); got != want {
		t.Fatalf("DefaultEndpoint() = %q, want %q", got, want)
	}
	t.Setenv("OVERAI_SOCKET", "/run/user/1000/overai.sock")
	if got := DefaultEndpoint("/cfg"); got != "/run/user/1000/overai.sock" {
		t.Fatalf("DefaultEndpoint() with override = %q", got)
	}
	t.Setenv("OVERAI_SOCKET", "relative.sock")
	if got, want := DefaultEndpoint("/cfg"), filepath.Join("/cfg", socketName); got != want {
		t.Fatalf("DefaultEndpoint() with rejected override = %q, want %q", got, want)
	}
}
