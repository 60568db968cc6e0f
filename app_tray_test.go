package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"overai/internal/config"
)

// runOnLoop waits for fn to run on the app loop.
func runOnLoop(t *testing.T, app *App, fn func()) {
	t.Helper()
	if err := app.loop.Call(context.Background(), func() error {
		fn()
		return nil
	}); err != nil {
		t.Fatalf("loop.Call() error = %v", err)
	}
}

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeHelper struct {
	mu     sync.Mutex
	kills  int
	exit   chan struct{}
	closed bool
}

func newFakeHelper() *fakeHelper { return &fakeHelper{exit: make(chan struct{})} }

func (f *fakeHelper) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	if !f.closed {
		f.closed = true
		close(f.exit)
	}
	return nil
}

func (f *fakeHelper) Wait() (*os.ProcessState, error) {
	<-f.exit
	return nil, errors.New("killed")
}

func (f *fakeHelper) killCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kills
}

type trayLaunch struct {
	path string
	args []string
}

// stubTrayHelper installs a helper binary beside a fake executable and
// records launches.
func stubTrayHelper(t *testing.T, goos string, installed bool) (*[]trayLaunch, *fakeHelper) {
	t.Helper()
	dir := t.TempDir()
	name := trayHelperName
	if goos == "windows" {
		name += ".exe"
	}
	if installed {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	origExe, origGOOS, origStart := executableFn, goosFn, startTrayProcessFn
	t.Cleanup(func() {
		executableFn, goosFn, startTrayProcessFn = origExe, origGOOS, origStart
	})
	executableFn = func() (string, error) { return filepath.Join(dir, "overai"), nil }
	goosFn = func() string { return goos }

	var launches []trayLaunch
	helper := newFakeHelper()
	startTrayProcessFn = func(path string, args ...string) (helperProcess, error) {
		launches = append(launches, trayLaunch{path: path, args: args})
		return helper, nil
	}
	return &launches, helper
}

func TestStartTrayLaunchesHelper(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		wantFile string
	}{
		{name: "darwin", goos: "darwin", wantFile: "overai-tray"},
		{name: "windows", goos: "windows", wantFile: "overai-tray.exe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubRuntime(t)
			app := newTestApp(t, testAppOptions{})
			launches, helper := stubTrayHelper(t, tt.goos, true)

			app.startTray("/tmp/overai.sock")
			if len(*launches) != 1 {
				t.Fatalf("launches = %+v, want 1", *launches)
			}
			got := (*launches)[0]
			if filepath.Base(got.path) != tt.wantFile {
				t.Fatalf("helper path = %q, want %s", got.path, tt.wantFile)
			}
			if strings.Join(got.args, " ") != "--endpoint /tmp/overai.sock --log-level info" {
				t.Fatalf("helper args = %q", got.args)
			}

			app.trayHelper.stop()
			app.trayHelper.stop()
			if helper.killCount() != 1 {
				t.Fatalf("kills = %d, want 1", helper.killCount())
			}
			select {
			case <-app.trayHelper.exited:
			case <-time.After(time.Second):
				t.Fatal("helper wait did not return after kill")
			}
		})
	}
}

func TestStartTraySkipped(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		installed bool
	}{
		{name: "unsupported platform", goos: "linux", installed: true},
		{name: "helper missing", goos: "darwin", installed: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubRuntime(t)
			app := newTestApp(t, testAppOptions{})
			launches, _ := stubTrayHelper(t, tt.goos, tt.installed)

			app.startTray("/tmp/overai.sock")
			if len(*launches) != 0 {
				t.Fatalf("launches = %+v, want none", *launches)
			}
			if app.trayHelper != nil {
				t.Fatal("trayHelper set without a launch")
			}
			app.trayHelper.stop()
		})
	}
}

func TestTrayHelperExitIsNotFatal(t *testing.T) {
	stubRuntime(t)
	app := newTestApp(t, testAppOptions{})
	_, helper := stubTrayHelper(t, "darwin", true)
	app.startTray("/tmp/overai.sock")

	// The helper dies on its own; the overlay keeps answering.
	helper.mu.Lock()
	helper.closed = true
	close(helper.exit)
	helper.mu.Unlock()
	<-app.trayHelper.exited

	if resp := execute(t, app, "status"); !resp.OK {
		t.Fatalf("status after helper exit = %+v", resp)
	}
	app.trayHelper.stop()
}

func TestBeforeCloseHides(t *testing.T) {
	rec := stubRuntime(t)
	app := newTestApp(t, testAppOptions{})
	runOnLoop(t, app, func() { _ = app.show() })

	if prevent := app.beforeClose(context.Background()); !prevent {
		t.Fatal("beforeClose should keep the app running")
	}
	runOnLoop(t, app, func() {})
	if app.window.IsOSVisible() || rec.callCount("hide") != 1 {
		t.Fatal("close request did not hide the window")
	}

	app.shuttingDown.Store(true)
	if prevent := app.beforeClose(context.Background()); prevent {
		t.Fatal("beforeClose should allow closing during shutdown")
	}
}

func TestApplyConfig(t *testing.T) {
	rec := stubRuntime(t)
	app := newTestApp(t, testAppOptions{})

	cfg := config.DefaultConfig()
	cfg.Memory.WarningMB = 300
	cfg.Memory.CriticalMB = 600
	cfg.Memory.CheckInterval = 30 * time.Second
	cfg.Hotkey.Debounce = 400 * time.Millisecond
	cfg.Window.AlwaysOnTop = false
	runOnLoop(t, app, func() { app.applyConfig(cfg) })

	if got := app.monitor.Thresholds(); got.WarningMB != 300 || got.CriticalMB != 600 {
		t.Fatalf("thresholds = %+v", got)
	}
	if got := app.lifecycle.Interval(); got != 30*time.Second {
		t.Fatalf("interval = %v", got)
	}
	if got := app.hotkeys.Matcher().Debounce(); got != 400*time.Millisecond {
		t.Fatalf("debounce = %v", got)
	}
	if len(rec.alwaysOnTop) != 1 || rec.alwaysOnTop[0] {
		t.Fatalf("always-on-top calls = %v, want [false]", rec.alwaysOnTop)
	}
	if app.alwaysOnTop() {
		t.Fatal("config snapshot not updated")
	}
}

func TestApplyConfigKeepsThresholdsOnInvalid(t *testing.T) {
	stubRuntime(t)
	app := newTestApp(t, testAppOptions{})

	cfg := config.DefaultConfig()
	cfg.Memory.WarningMB = 500
	cfg.Memory.CriticalMB = 100
	runOnLoop(t, app, func() { app.applyConfig(cfg) })

	if got := app.monitor.Thresholds(); got.WarningMB != 200 || got.CriticalMB != 400 {
		t.Fatalf("thresholds = %+v, want previous 200/400", got)
	}
}

func TestApplyConfigDisablesHotkey(t *testing.T) {
	stubRuntime(t)
	app := newTestApp(t, testAppOptions{})
	app.hotkeyArmed.Store(true)

	cfg := config.DefaultConfig()
	cfg.Hotkey.Enabled = false
	runOnLoop(t, app, func() { app.applyConfig(cfg) })

	if app.hotkeyArmed.Load() {
		t.Fatal("hotkey still reported armed after disabling")
	}
	if app.rearmHotkey() {
		t.Fatal("rearm succeeded while disabled")
	}
}

func TestOnConfigReloadIgnoresErrors(t *testing.T) {
	stubRuntime(t)
	app := newTestApp(t, testAppOptions{})

	cfg := config.DefaultConfig()
	cfg.Memory.WarningMB = 250
	app.onConfigReload(cfg, config.ErrConfigCorrupt)
	runOnLoop(t, app, func() {})

	if got := app.monitor.Thresholds().WarningMB; got != 200 {
		t.Fatalf("WarningMB = %v, corrupt reload must not apply", got)
	}

	app.onConfigReload(cfg, nil)
	runOnLoop(t, app, func() {})
	if got := app.monitor.Thresholds().WarningMB; got != 250 {
		t.Fatalf("WarningMB = %v, want 250", got)
	}
}
