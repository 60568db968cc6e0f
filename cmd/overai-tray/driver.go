package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"overai/internal/ipc"
	"overai/internal/logging"
	"overai/internal/services"
	"overai/internal/tray"
	"overai/internal/workerutil"
)

const (
	defaultPollInterval = time.Second
	// defaultMaxMisses consecutive unreachable polls end the helper: the app
	// exited without stopping it.
	defaultMaxMisses = 3
)

var (
	sendFn                = ipc.Send
	signalNotifyContextFn = signal.NotifyContext
)

type options struct {
	endpoint  string
	interval  time.Duration
	maxMisses int
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "overai-tray",
		Short:         "Menu-bar item for a running OverAI overlay",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

			ctx, stop := signalNotifyContextFn(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return newDriver(opts).run(ctx)
		},
	}
	root.Flags().StringVar(&opts.endpoint, "endpoint", "", "control socket path or pipe name (default: per-user endpoint)")
	root.Flags().DurationVar(&opts.interval, "interval", defaultPollInterval, "how often the menu polls the overlay state")
	root.Flags().IntVar(&opts.maxMisses, "max-misses", defaultMaxMisses, "unreachable polls before the tray exits")
	root.Flags().StringVar(&opts.logLevel, "log-level", "warn", "debug, info, warn or error")
	return root
}

// driver mirrors the overlay state into the menu and turns clicks into
// control requests.
type driver struct {
	opts   *options
	tray   *tray.Tray
	misses int
}

func newDriver(opts *options) *driver {
	d := &driver{opts: opts}
	d.tray = tray.New(d.onAction)
	return d
}

// run blocks on the native loop until the overlay goes away, ctx ends, or
// Quit is clicked.
func (d *driver) run(ctx context.Context) error {
	st, err := d.fetch()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = d.tray.Run(stateFromStatus(st), func() {
		go workerutil.RecoverTask("tray-poll", func() { d.pollLoop(ctx) })
	})
	if errors.Is(err, tray.ErrUnsupported) {
		return fmt.Errorf("%w: use overaictl or the hotkey", err)
	}
	return err
}

func (d *driver) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.opts.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.tray.Stop()
			return
		case <-ticker.C:
			if !d.poll() {
				d.tray.Stop()
				return
			}
		}
	}
}

// poll refreshes the menu once. It returns false when the overlay has been
// unreachable for maxMisses polls in a row.
func (d *driver) poll() bool {
	st, err := d.fetch()
	if err != nil {
		if !ipc.IsConnectionError(err) {
			slog.Warn("[DEBUG-tray] status poll failed", "error", err)
			return true
		}
		d.misses++
		slog.Debug("[DEBUG-tray] overlay unreachable", "misses", d.misses)
		if d.misses >= d.opts.maxMisses {
			slog.Info("[DEBUG-tray] overlay gone, exiting")
			return false
		}
		return true
	}
	d.misses = 0
	d.tray.Update(stateFromStatus(st))
	return true
}

func (d *driver) fetch() (*ipc.Status, error) {
	resp, err := sendFn(d.opts.endpoint, ipc.Request{Command: ipc.CmdStatus})
	if err != nil {
		if ipc.IsConnectionError(err) {
			return nil, fmt.Errorf("OverAI is not running (%w)", err)
		}
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("status response carries no state")
	}
	return resp.Status, nil
}

// onAction runs on a click goroutine.
func (d *driver) onAction(act tray.Action) {
	req, ok := requestFor(act)
	if !ok {
		slog.Debug("[DEBUG-tray] ignored action", "action", act.Kind.String())
		return
	}
	resp, err := sendFn(d.opts.endpoint, req)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		slog.Warn("[DEBUG-tray] action failed", "action", act.Kind.String(), "error", err)
	}
	if act.Kind == tray.ActionQuit {
		d.tray.Stop()
		return
	}
	if resp.Status != nil {
		d.tray.Update(stateFromStatus(resp.Status))
	}
}

// requestFor maps a menu action onto its control command.
func requestFor(act tray.Action) (ipc.Request, bool) {
	switch act.Kind {
	case tray.ActionToggle:
		return ipc.Request{Command: ipc.CmdToggle}, true
	case tray.ActionReloadPage:
		return ipc.Request{Command: ipc.CmdReload}, true
	case tray.ActionSwitch:
		if act.Service == "" {
			return ipc.Request{}, false
		}
		return ipc.Request{Command: ipc.CmdSwitch, Args: []string{act.Service}}, true
	case tray.ActionOpacityUp:
		return ipc.Request{Command: ipc.CmdOpacity, Args: []string{"up"}}, true
	case tray.ActionOpacityDown:
		return ipc.Request{Command: ipc.CmdOpacity, Args: []string{"down"}}, true
	case tray.ActionReloadHotkey:
		return ipc.Request{Command: ipc.CmdRearm}, true
	case tray.ActionQuit:
		return ipc.Request{Command: ipc.CmdQuit}, true
	}
	return ipc.Request{}, false
}

func stateFromStatus(st *ipc.Status) tray.State {
	targets := make([]services.Target, 0, len(st.Services))
	for _, s := range st.Services {
		targets = append(targets, services.Target{ID: s.ID, Name: s.Name, URL: s.URL})
	}
	return tray.State{
		Visible:        st.Visible,
		Current:        st.Service,
		Opacity:        st.Opacity,
		Hotkey:         st.Hotkey,
		Services:       targets,
		HotkeyInactive: st.HotkeyInactive,
	}
}
