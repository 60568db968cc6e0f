package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"overai/internal/buildinfo"
	"overai/internal/hotkeys"
	"overai/internal/ipc"
	"overai/internal/services"
	"overai/internal/visibility"
)

// newControlMux registers the control commands. Every handler that touches
// overlay state runs on the loop.
func (a *App) newControlMux() *ipc.Mux {
	mux := ipc.NewMux()
	mux.Handle(ipc.CmdActivate, 0, 0, a.handleShow)
	mux.Handle(ipc.CmdShow, 0, 0, a.handleShow)
	mux.Handle(ipc.CmdHide, 0, 0, a.handleHide)
	mux.Handle(ipc.CmdToggle, 0, 0, a.handleToggle)
	mux.HandleChoice(ipc.CmdOpacity, []string{"up", "down"}, a.handleOpacity)
	mux.Handle(ipc.CmdSwitch, 1, 1, a.handleSwitch)
	mux.Handle(ipc.CmdStatus, 0, 0, a.handleStatus)
	mux.Handle(ipc.CmdHotkey, 1, 1, a.handleHotkey)
	mux.Handle(ipc.CmdLogs, 0, 1, a.handleLogs)
	mux.Handle(ipc.CmdRearm, 0, 0, a.handleRearm)
	mux.Handle(ipc.CmdReload, 0, 0, a.handleReload)
	mux.Handle(ipc.CmdQuit, 0, 0, a.handleQuit)
	return mux
}

// respond runs fn on the loop and answers with the resulting status.
func (a *App) respond(ctx context.Context, fn func() (string, error)) ipc.Response {
	var message string
	err := a.onLoop(ctx, func() error {
		var err error
		message, err = fn()
		return err
	})
	resp := ipc.Response{OK: err == nil, Message: message}
	if err != nil {
		resp.Message = err.Error()
	}
	st := a.controlStatus()
	resp.Status = &st
	return resp
}

func (a *App) handleShow(ctx context.Context, _ []string) ipc.Response {
	return a.respond(ctx, func() (string, error) {
		if err := a.show(); err != nil {
			return "", err
		}
		return "shown", nil
	})
}

func (a *App) handleHide(ctx context.Context, _ []string) ipc.Response {
	return a.respond(ctx, func() (string, error) {
		if err := a.hide(); err != nil {
			return "", err
		}
		return "hidden", nil
	})
}

func (a *App) handleToggle(ctx context.Context, _ []string) ipc.Response {
	return a.respond(ctx, func() (string, error) {
		err := a.controller.Toggle()
		a.reportVisibilityError("toggle", err)
		if err != nil {
			return "", err
		}
		return a.controller.Status().State.String(), nil
	})
}

func (a *App) handleOpacity(ctx context.Context, args []string) ipc.Response {
	increase := args[0] == "up"
	return a.respond(ctx, func() (string, error) {
		opacity, err := a.adjustOpacity(increase)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("opacity %.0f%%", opacity*100), nil
	})
}

func (a *App) handleSwitch(ctx context.Context, args []string) ipc.Response {
	id := strings.ToLower(strings.TrimSpace(args[0]))
	return a.respond(ctx, func() (string, error) {
		if err := a.switchService(id); err != nil {
			return "", err
		}
		return "switched to " + a.controller.Current().Name, nil
	})
}

func (a *App) handleStatus(_ context.Context, _ []string) ipc.Response {
	st := a.controlStatus()
	return ipc.Response{OK: true, Status: &st}
}

// handleHotkey saves a new combination and re-registers the listener. The
// combination is kept even when the OS refuses it.
func (a *App) handleHotkey(ctx context.Context, args []string) ipc.Response {
	combo, err := hotkeys.ParseCombination(args[0])
	if err != nil {
		return ipc.Fail(err)
	}
	return a.respond(ctx, func() (string, error) {
		err := a.hotkeys.Reconfigure(combo)
		a.hotkeyArmed.Store(a.hotkeys.Armed())
		if err != nil {
			return "", fmt.Errorf("hotkey saved as %s but not active: %w", combo, err)
		}
		a.showToast("Hotkey: " + combo.String())
		return "hotkey set to " + combo.String(), nil
	})
}

// handleRearm re-registers the global listener, for example after the user
// granted Accessibility access.
func (a *App) handleRearm(ctx context.Context, _ []string) ipc.Response {
	return a.respond(ctx, func() (string, error) {
		combo := a.hotkeys.Matcher().Combination().String()
		if !a.rearmHotkey() {
			a.showToast("Hotkey unavailable: check Accessibility access")
			return "", errHotkeyInactive
		}
		a.showToast("Hotkey active: " + combo)
		return "hotkey active: " + combo, nil
	})
}

var errHotkeyInactive = errors.New("hotkey listener not active: enable it in config and grant Accessibility access")

// handleReload loads the current service again.
func (a *App) handleReload(ctx context.Context, _ []string) ipc.Response {
	return a.respond(ctx, func() (string, error) {
		if err := a.controller.Reload(); err != nil {
			return "", err
		}
		return "reloaded " + a.controller.Current().Name, nil
	})
}

// handleQuit starts shutdown. It skips the loop so a wedged loop cannot
// keep the app alive.
func (a *App) handleQuit(_ context.Context, _ []string) ipc.Response {
	if a.shuttingDown.Load() {
		return ipc.Okf("already quitting")
	}
	slog.Info("[ipc] quit requested")
	a.quit()
	return ipc.Okf("quitting")
}

// handleLogs returns the last n captured warnings and errors, all of them
// when n is missing or zero.
func (a *App) handleLogs(_ context.Context, args []string) ipc.Response {
	n := 0
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return ipc.Fail(fmt.Errorf("%w: logs takes a non-negative line count", ipc.ErrInvalidRequest))
		}
		n = v
	}
	if a.logger == nil {
		return ipc.Okf("")
	}
	return ipc.Response{OK: true, Message: strings.Join(a.logger.Recent(n), "\n")}
}

// adjustOpacity steps the alpha and confirms it with a toast. Runs on the loop.
func (a *App) adjustOpacity(increase bool) (float64, error) {
	opacity, err := a.controller.AdjustOpacity(increase)
	if err != nil {
		return opacity, err
	}
	a.showToast(fmt.Sprintf("Opacity %.0f%%", opacity*100))
	return opacity, nil
}

// switchService loads id and confirms it with a toast. Runs on the loop.
func (a *App) switchService(id string) error {
	if err := a.controller.SwitchContent(id); err != nil {
		return err
	}
	a.showToast(a.controller.Current().Name)
	return nil
}

// controlStatus snapshots the overlay for the control channel.
func (a *App) controlStatus() ipc.Status {
	st := a.controller.Status()
	sample := a.monitor.Last()
	return ipc.Status{
		Visible:   st.State == visibility.Visible,
		Suspended: st.Suspended,
		Service:   st.Service.ID,
		Opacity:   st.Opacity,
		Hotkey:    a.hotkeys.Matcher().Combination().String(),
		MemoryMB:  sample.CurrentMB,
		Pressure:  a.monitor.Classify().String(),
		ChatURL:   a.bridge.ChatURL(),
		Version:   buildinfo.Version,

		HotkeyInactive: !a.hotkeyArmed.Load(),
		Services:       serviceInfos(a.catalog.All()),
	}
}

func serviceInfos(targets []services.Target) []ipc.ServiceInfo {
	out := make([]ipc.ServiceInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, ipc.ServiceInfo{ID: t.ID, Name: t.Name, URL: t.URL})
	}
	return out
}
