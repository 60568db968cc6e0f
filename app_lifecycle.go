package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"overai/internal/ipc"
	"overai/internal/mempressure"
	"overai/internal/services"
	"overai/internal/visibility"
	"overai/internal/workerutil"
)

var (
	statFn                = os.Stat
	newIPCServerFn        = ipc.NewServer
	signalNotifyContextFn = signal.NotifyContext
)

const shutdownWaitTimeout = 10 * time.Second

// startup runs once the Wails window exists. The window starts hidden.
func (a *App) startup(ctx context.Context) {
	a.setRuntimeContext(ctx)
	accessoryPolicyFn()

	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	a.loop.Start(bgCtx)

	sigCtx, stopSignals := signalNotifyContextFn(bgCtx, os.Interrupt, syscall.SIGTERM)
	a.stopSignals = stopSignals
	go workerutil.RecoverTask("signals", func() { a.quitOnSignal(sigCtx, bgCtx) })

	if err := a.bridge.Start(bgCtx); err != nil {
		slog.Error("[DEBUG-WS] chat bridge failed to start, local AI is unavailable", "error", err)
	} else {
		a.catalog.SetLocalURL(a.bridge.ChatURL())
		slog.Info("[DEBUG-WS] chat bridge listening", "url", a.bridge.ChatURL())
	}

	if err := a.ipcServer.Start(); err != nil {
		slog.Warn("[ipc] control server failed to start, overaictl and the tray are unavailable", "error", err)
	} else {
		slog.Info("[ipc] control server listening", "endpoint", a.ipcServer.Endpoint())
		a.startTray(a.ipcServer.Endpoint())
	}

	if err := a.onLoop(bgCtx, a.restoreContent); err != nil {
		slog.Error("[DEBUG-window] failed to restore content", "error", err)
	}

	a.armHotkey()
	a.lifecycle.Start(bgCtx)
	a.startConfigWatcher()
}

// restoreContent loads the last service and applies the saved frame.
// Runs on the loop.
func (a *App) restoreContent() error {
	st := a.windowStore.Load()
	a.restoreSize(st)
	if st.LastService == services.LocalID && a.controller.Current().ID != services.LocalID {
		// The local page only resolves once the chat bridge is listening.
		if err := a.controller.SwitchContent(services.LocalID); err == nil {
			return a.window.SetAlpha(st.Opacity)
		}
	}
	return a.controller.Restore()
}

// domReady re-applies page state that a reload of the bundled page drops.
func (a *App) domReady(_ context.Context) {
	a.window.reapplyAlpha()
}

// beforeClose turns the close request into a hide so the app stays in the
// menu bar. Quit goes through the tray or the app menu.
func (a *App) beforeClose(_ context.Context) bool {
	if a.shuttingDown.Load() {
		return false
	}
	if !a.loop.Post(func() { a.hide() }) {
		return false
	}
	return true
}

func (a *App) shutdown(_ context.Context) {
	a.shuttingDown.Store(true)
	if !a.stopped.CompareAndSwap(false, true) {
		return
	}
	a.trayHelper.stop()
	if a.watcher != nil {
		a.watcher.Stop()
	}
	a.lifecycle.Stop()
	if err := a.hotkeys.Stop(); err != nil {
		slog.Warn("[DEBUG-hotkey] hotkeys stop failed", "error", err)
	}
	if err := a.ipcServer.Stop(); err != nil {
		slog.Warn("[ipc] control server stop failed", "error", err)
	}
	a.dispatcher.Close()
	if err := a.bridge.Stop(); err != nil {
		slog.Warn("[DEBUG-WS] chat bridge stop failed", "error", err)
	}
	if a.unregisterCleanup != nil {
		a.unregisterCleanup()
	}

	a.loop.Stop()
	if !a.loop.Wait(shutdownWaitTimeout) {
		slog.Warn("[DEBUG-PANIC] timed out waiting for the event loop during shutdown")
	}
	if a.stopSignals != nil {
		a.stopSignals()
	}
	if a.bgCancel != nil {
		a.bgCancel()
	}
	a.setRuntimeContext(nil)
	slog.Info("[DEBUG-window] shutdown complete")
}

// armHotkey starts the global listener when enabled in config. The trigger
// is delivered on the loop by the hotkey manager.
func (a *App) armHotkey() {
	if !a.getConfigSnapshot().Hotkey.Enabled {
		slog.Info("[DEBUG-hotkey] global hotkey disabled in config")
		a.hotkeyArmed.Store(false)
		return
	}
	ok := a.hotkeys.StartListening(a.lifecycle.HandleHotkey)
	a.hotkeyArmed.Store(ok)
	if !ok {
		a.loop.Post(func() {
			a.showToast("Hotkey unavailable: grant Accessibility access, then Reload Hotkey")
		})
	}
}

// rearmHotkey re-registers the listener, for example after the user granted
// accessibility access.
func (a *App) rearmHotkey() bool {
	if !a.getConfigSnapshot().Hotkey.Enabled {
		return false
	}
	ok := a.hotkeys.Rearm()
	a.hotkeyArmed.Store(ok)
	return ok
}

// toggle is the lifecycle toggle hook. Runs on the loop.
func (a *App) toggle() {
	err := a.controller.Toggle()
	a.reportVisibilityError("toggle", err)
}

func (a *App) show() error {
	err := a.controller.Show()
	a.reportVisibilityError("show", err)
	return err
}

func (a *App) hide() error {
	err := a.controller.Hide()
	a.reportVisibilityError("hide", err)
	return err
}

// reportVisibilityError logs a failed transition and tells the user when the
// content could not be suspended or resumed.
func (a *App) reportVisibilityError(op string, err error) {
	if err == nil {
		return
	}
	slog.Error("[DEBUG-window] visibility transition failed", "op", op, "error", err)
	if errors.Is(err, visibility.ErrSuspendFailed) || errors.Is(err, visibility.ErrResumeFailed) {
		a.showToast("Something went wrong")
	}
}

// onMemoryPressure is the lifecycle memory hook. Runs on the loop.
func (a *App) onMemoryPressure(level mempressure.Level, freedMB float64) {
	slog.Info("[DEBUG-memory] cleanup finished", "level", level.String(), "freedMB", freedMB)
	if level == mempressure.LevelCritical {
		slog.Warn("[DEBUG-memory] critical memory pressure",
			"currentMB", a.monitor.Last().CurrentMB, "criticalMB", a.monitor.Thresholds().CriticalMB,
			"handlers", a.monitor.HandlerCount())
	}
}

// quitOnSignal turns SIGINT or SIGTERM into a normal quit so shutdown runs
// and the crash history is reset. It returns without quitting once appCtx
// ends.
func (a *App) quitOnSignal(sigCtx, appCtx context.Context) {
	<-sigCtx.Done()
	if appCtx.Err() != nil {
		return
	}
	slog.Info("[DEBUG-SIGNAL] termination signal received, quitting")
	a.quit()
}

// quit stops the app through Wails so shutdown runs once.
func (a *App) quit() {
	ctx := a.runtimeContext()
	if ctx == nil {
		return
	}
	a.shuttingDown.Store(true)
	// runtime.Quit blocks until the Wails loop processes it; never call it
	// from the loop goroutine.
	go workerutil.RecoverTask("quit", func() {
		runtimeQuitFn(ctx)
	})
}
