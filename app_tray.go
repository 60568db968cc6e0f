package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	"overai/internal/workerutil"
)

// trayHelperName is the menu-bar helper shipped next to the app binary. It
// runs in its own process because the status item needs an NSApplication
// delegate of its own and Wails already owns this one.
const trayHelperName = "overai-tray"

// helperProcess is the running tray helper.
type helperProcess interface {
	Kill() error
	Wait() (*os.ProcessState, error)
}

var (
	executableFn       = os.Executable
	goosFn             = func() string { return runtime.GOOS }
	startTrayProcessFn = startTrayProcess
)

func startTrayProcess(path string, args ...string) (helperProcess, error) {
	cmd := exec.Command(path, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}

// trayHelper supervises the helper process.
type trayHelper struct {
	mu      sync.Mutex
	proc    helperProcess
	stopped bool
	exited  chan struct{}
}

// trayHelperPath finds the helper beside the running executable, which is
// Contents/MacOS inside the app bundle.
func trayHelperPath() (string, error) {
	exe, err := executableFn()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	name := trayHelperName
	if goosFn() == "windows" {
		name += ".exe"
	}
	path := filepath.Join(filepath.Dir(exe), name)
	if _, err := statFn(path); err != nil {
		return "", fmt.Errorf("tray helper: %w", err)
	}
	return path, nil
}

// startTray launches the helper against the control endpoint. Without a
// control server the helper could not reach the app, so it is not started.
func (a *App) startTray(endpoint string) {
	if goos := goosFn(); goos != "darwin" && goos != "windows" {
		slog.Info("[DEBUG-tray] no tray on this platform, use overaictl or the hotkey")
		return
	}
	path, err := trayHelperPath()
	if err != nil {
		slog.Warn("[DEBUG-tray] tray helper not found, use overaictl or the hotkey", "error", err)
		return
	}
	proc, err := startTrayProcessFn(path, "--endpoint", endpoint, "--log-level", a.getConfigSnapshot().LogLevel)
	if err != nil {
		slog.Warn("[DEBUG-tray] tray helper failed to start", "path", path, "error", err)
		return
	}
	h := &trayHelper{proc: proc, exited: make(chan struct{})}
	a.trayHelper = h
	slog.Info("[DEBUG-tray] tray helper started", "path", path)
	go workerutil.RecoverTask("tray-helper-wait", h.wait)
}

func (h *trayHelper) wait() {
	defer close(h.exited)
	state, err := h.proc.Wait()
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return
	}
	// The overlay keeps working without the menu; overaictl and the hotkey
	// still reach it.
	slog.Warn("[DEBUG-tray] tray helper exited", "state", state, "error", err)
}

// stop kills the helper. It exits on its own once the control socket is
// gone, so this only shortens the wait.
func (h *trayHelper) stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()
	if err := h.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("[DEBUG-tray] tray helper kill failed", "error", err)
	}
}
