package main

import (
	"errors"
	"log/slog"
	"slices"

	"overai/internal/config"
)

var newConfigWatcherFn = config.NewWatcher

func (a *App) startConfigWatcher() {
	if a.configPath == "" {
		return
	}
	w, err := newConfigWatcherFn(a.configPath, a.onConfigReload)
	if err != nil {
		slog.Warn("[WARN-CONFIG] config watcher unavailable, edits need a restart", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		slog.Warn("[WARN-CONFIG] config watcher failed to start, edits need a restart", "error", err)
		w.Stop()
		return
	}
	a.watcher = w
}

// onConfigReload runs on the watcher goroutine and hands the new config to
// the loop.
func (a *App) onConfigReload(cfg config.Config, err error) {
	if err != nil {
		if errors.Is(err, config.ErrConfigCorrupt) {
			slog.Warn("[WARN-CONFIG] edited config is invalid, keeping the running settings", "error", err)
			return
		}
		slog.Warn("[WARN-CONFIG] config reload failed", "error", err)
		return
	}
	a.loop.Post(func() { a.applyConfig(cfg) })
}

// applyConfig applies the settings that can change at runtime. Runs on the
// loop. LLM endpoints and the chat bridge address need a restart.
func (a *App) applyConfig(cfg config.Config) {
	prev := a.getConfigSnapshot()
	a.setConfigSnapshot(cfg)

	if a.logger != nil {
		if err := a.logger.SetLevel(cfg.LogLevel); err != nil {
			slog.Warn("[WARN-CONFIG] invalid log level", "level", cfg.LogLevel, "error", err)
		}
	}
	if err := a.monitor.SetThresholds(thresholdsFromConfig(cfg)); err != nil {
		slog.Warn("[WARN-CONFIG] invalid memory thresholds, keeping previous", "error", err)
	}
	a.lifecycle.SetInterval(cfg.Memory.CheckInterval)
	a.hotkeys.Matcher().SetDebounce(cfg.Hotkey.Debounce)

	if cfg.Window.AlwaysOnTop != prev.Window.AlwaysOnTop {
		if ctx := a.runtimeContext(); ctx != nil {
			runtimeWindowSetAlwaysOnTopFn(ctx, cfg.Window.AlwaysOnTop)
		}
	}

	if cfg.Hotkey.Enabled != prev.Hotkey.Enabled {
		if cfg.Hotkey.Enabled {
			a.armHotkey()
		} else {
			if err := a.hotkeys.Stop(); err != nil {
				slog.Warn("[DEBUG-hotkey] failed to stop listener", "error", err)
			}
			a.hotkeyArmed.Store(false)
		}
	}

	if cfg.LocalLLM != prev.LocalLLM || cfg.ChatBridge != prev.ChatBridge ||
		cfg.Metrics != prev.Metrics || !slices.Equal(cfg.APIServices, prev.APIServices) {
		slog.Warn("[WARN-CONFIG] chat bridge and LLM settings take effect after restart")
	}
	slog.Info("[DEBUG-CONFIG] config reloaded")
}
