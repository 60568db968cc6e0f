package main

import (
	"bytes"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"

	"overai/internal/ipc"
	"overai/internal/tray"
)

type sender struct {
	mu   sync.Mutex
	reqs []ipc.Request
	resp ipc.Response
	err  error
}

func (s *sender) requests() []ipc.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ipc.Request(nil), s.reqs...)
}

func stubSend(t *testing.T, resp ipc.Response, err error) *sender {
	t.Helper()
	s := &sender{resp: resp, err: err}
	orig := sendFn
	t.Cleanup(func() { sendFn = orig })
	sendFn = func(_ string, req ipc.Request) (ipc.Response, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reqs = append(s.reqs, req)
		return s.resp, s.err
	}
	return s
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "unix", Err: errors.New("no such file")}
}

func testOptions() *options {
	return &options{interval: defaultPollInterval, maxMisses: 2}
}

func TestRequestFor(t *testing.T) {
	tests := []struct {
		name   string
		act    tray.Action
		want   ipc.Request
		wantOK bool
	}{
		{name: "toggle", act: tray.Action{Kind: tray.ActionToggle}, want: ipc.Request{Command: "toggle"}, wantOK: true},
		{name: "reload page", act: tray.Action{Kind: tray.ActionReloadPage}, want: ipc.Request{Command: "reload"}, wantOK: true},
		{name: "switch", act: tray.Action{Kind: tray.ActionSwitch, Service: "claude"}, want: ipc.Request{Command: "switch", Args: []string{"claude"}}, wantOK: true},
		{name: "switch without service", act: tray.Action{Kind: tray.ActionSwitch}},
		{name: "opacity up", act: tray.Action{Kind: tray.ActionOpacityUp}, want: ipc.Request{Command: "opacity", Args: []string{"up"}}, wantOK: true},
		{name: "opacity down", act: tray.Action{Kind: tray.ActionOpacityDown}, want: ipc.Request{Command: "opacity", Args: []string{"down"}}, wantOK: true},
		{name: "reload hotkey", act: tray.Action{Kind: tray.ActionReloadHotkey}, want: ipc.Request{Command: "rearm"}, wantOK: true},
		{name: "quit", act: tray.Action{Kind: tray.ActionQuit}, want: ipc.Request{Command: "quit"}, wantOK: true},
		{name: "none", act: tray.Action{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := requestFor(tt.act)
			if ok != tt.wantOK {
				t.Fatalf("requestFor() ok = %v, want %v", ok, tt.wantOK)
			}
			if got.Command != tt.want.Command || strings.Join(got.Args, " ") != strings.Join(tt.want.Args, " ") {
				t.Fatalf("requestFor() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStateFromStatus(t *testing.T) {
	st := stateFromStatus(&ipc.Status{
		Visible:        true,
		Service:        "claude",
		Opacity:        0.7,
		Hotkey:         "⇧⌘Space",
		HotkeyInactive: true,
		Services:       []ipc.ServiceInfo{{ID: "grok", Name: "Grok"}, {ID: "claude", Name: "Claude", URL: "https://claude.ai/chat"}},
	})
	if !st.Visible || st.Current != "claude" || st.Opacity != 0.7 || st.Hotkey != "⇧⌘Space" || !st.HotkeyInactive {
		t.Fatalf("stateFromStatus() = %+v", st)
	}
	if len(st.Services) != 2 || st.Services[1].URL != "https://claude.ai/chat" {
		t.Fatalf("Services = %+v", st.Services)
	}
	m := tray.Build(st)
	if !m.Services[1].Checked || m.Toggle.Title != "Hide OverAI" {
		t.Fatalf("menu from status = %+v", m)
	}
}

func TestPollExitsAfterMisses(t *testing.T) {
	stubSend(t, ipc.Response{}, dialError())
	d := newDriver(testOptions())

	if !d.poll() {
		t.Fatal("first unreachable poll ended the tray")
	}
	if d.poll() {
		t.Fatal("tray kept running after maxMisses unreachable polls")
	}
}

func TestPollResetsMisses(t *testing.T) {
	s := stubSend(t, ipc.Response{}, dialError())
	d := newDriver(testOptions())
	d.poll()

	s.mu.Lock()
	s.resp, s.err = ipc.Response{OK: true, Status: &ipc.Status{Visible: true, Service: "grok"}}, nil
	s.mu.Unlock()
	if !d.poll() || d.misses != 0 {
		t.Fatalf("successful poll left misses = %d", d.misses)
	}
	if d.tray.Menu().Toggle.Title != "Hide OverAI" {
		t.Fatalf("menu not refreshed: %q", d.tray.Menu().Toggle.Title)
	}
}

func TestPollKeepsRunningOnCommandErrors(t *testing.T) {
	stubSend(t, ipc.Response{Message: "busy"}, nil)
	d := newDriver(testOptions())
	for range 5 {
		if !d.poll() {
			t.Fatal("failed status answers must not end the tray")
		}
	}
}

func TestOnActionSendsRequest(t *testing.T) {
	s := stubSend(t, ipc.Response{OK: true, Status: &ipc.Status{Visible: true, Opacity: 0.8}}, nil)
	d := newDriver(testOptions())

	d.onAction(tray.Action{Kind: tray.ActionOpacityDown})
	d.onAction(tray.Action{Kind: tray.ActionNone})

	reqs := s.requests()
	if len(reqs) != 1 || reqs[0].Command != ipc.CmdOpacity || reqs[0].Args[0] != "down" {
		t.Fatalf("requests = %+v", reqs)
	}
	if got := d.tray.Menu().Toggle.Title; got != "Hide OverAI" {
		t.Fatalf("menu not refreshed from the response: %q", got)
	}
}

func TestOnActionQuitSurvivesGoneOverlay(t *testing.T) {
	s := stubSend(t, ipc.Response{}, dialError())
	d := newDriver(testOptions())
	d.onAction(tray.Action{Kind: tray.ActionQuit})
	if reqs := s.requests(); len(reqs) != 1 || reqs[0].Command != ipc.CmdQuit {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name    string
		resp    ipc.Response
		err     error
		wantErr string
	}{
		{name: "ok", resp: ipc.Response{OK: true, Status: &ipc.Status{Service: "grok"}}},
		{name: "not running", err: dialError(), wantErr: "not running"},
		{name: "refused", resp: ipc.Response{Message: "shutting down"}, wantErr: "shutting down"},
		{name: "no status", resp: ipc.Response{OK: true}, wantErr: "no state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubSend(t, tt.resp, tt.err)
			st, err := newDriver(testOptions()).fetch()
			if tt.wantErr == "" {
				if err != nil || st.Service != "grok" {
					t.Fatalf("fetch() = %+v, %v", st, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("fetch() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// keepDefaultLogger restores the slog default the root command replaces.
func keepDefaultLogger(t *testing.T) {
	t.Helper()
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })
}

func TestRootExitsWhenOverlayNotRunning(t *testing.T) {
	keepDefaultLogger(t)
	s := stubSend(t, ipc.Response{}, dialError())
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--endpoint", "/tmp/overai-test.sock"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("Execute() error = %v, want not running", err)
	}
	if len(s.requests()) != 1 {
		t.Fatalf("requests = %+v, want one status", s.requests())
	}
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	keepDefaultLogger(t)
	s := stubSend(t, ipc.Response{}, dialError())
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--log-level", "loud"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() accepted an unknown log level")
	}
	if len(s.requests()) != 0 {
		t.Fatal("bad flags reached the socket")
	}
}
