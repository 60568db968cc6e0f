package tray

import (
	"errors"
	"sync"
	"testing"
	"time"

	"overai/internal/services"
)

func testTargets() []services.Target {
	return []services.Target{
		{ID: "grok", Name: "Grok", URL: "https://grok.com"},
		{ID: "claude", Name: "Claude", URL: "https://claude.ai/chat"},
	}
}

type fakeRenderer struct {
	mu      sync.Mutex
	runErr  error
	renders []Menu
	click   func(int)
	stopped int
	stopCh  chan struct{}
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{stopCh: make(chan struct{})}
}

func (f *fakeRenderer) run(m Menu, click func(int), ready func()) error {
	f.mu.Lock()
	if f.runErr != nil {
		f.mu.Unlock()
		return f.runErr
	}
	f.renders = append(f.renders, m)
	f.click = click
	f.mu.Unlock()
	ready()
	<-f.stopCh
	return nil
}

func (f *fakeRenderer) render(m Menu) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders = append(f.renders, m)
}

func (f *fakeRenderer) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	if f.stopped == 1 {
		close(f.stopCh)
	}
}

func (f *fakeRenderer) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders)
}

func useFakeRenderer(t *testing.T, f *fakeRenderer) {
	t.Helper()
	orig := newRendererFn
	t.Cleanup(func() { newRendererFn = orig })
	newRendererFn = func() renderer { return f }
}

// startTray runs tr until the test ends and waits for the menu to be ready.
func startTray(t *testing.T, tr *Tray, st State) {
	t.Helper()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- tr.Run(st, func() { close(ready) }) }()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("Run() returned early: %v", err)
	case <-time.After(time.Second):
		t.Fatal("tray never became ready")
	}
	t.Cleanup(func() {
		tr.Stop()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("Run() did not return after Stop")
		}
	})
}

func TestBuild(t *testing.T) {
	m := Build(State{Visible: true, Current: "claude", Opacity: 1, Hotkey: "⌘⇧Space", Services: testTargets()})

	if m.Toggle.Title != "Hide OverAI" {
		t.Errorf("Toggle.Title = %q", m.Toggle.Title)
	}
	if m.Services[0].Checked || !m.Services[1].Checked {
		t.Errorf("service checks = %v %v, want claude checked", m.Services[0].Checked, m.Services[1].Checked)
	}
	if m.Services[1].Action != (Action{Kind: ActionSwitch, Service: "claude"}) {
		t.Errorf("service action = %+v", m.Services[1].Action)
	}
	for i := 2; i < maxServiceSlots; i++ {
		if !m.Services[i].Hidden {
			t.Fatalf("unused slot %d visible", i)
		}
	}
	if !m.OpacityUp.Disabled || m.OpacityDown.Disabled {
		t.Errorf("opacity items at 1.0: up disabled=%v down disabled=%v", m.OpacityUp.Disabled, m.OpacityDown.Disabled)
	}
	if m.Tooltip != "OverAI: Claude (⌘⇧Space)" {
		t.Errorf("Tooltip = %q", m.Tooltip)
	}
}

func TestBuildEdges(t *testing.T) {
	tests := []struct {
		name  string
		st    State
		check func(t *testing.T, m Menu)
	}{
		{
			name: "hidden shows show",
			st:   State{},
			check: func(t *testing.T, m Menu) {
				if m.Toggle.Title != "Show OverAI" {
					t.Fatalf("Toggle.Title = %q", m.Toggle.Title)
				}
			},
		},
		{
			name: "minimum opacity disables decrease",
			st:   State{Opacity: 0.2},
			check: func(t *testing.T, m Menu) {
				if !m.OpacityDown.Disabled || m.OpacityUp.Disabled {
					t.Fatalf("down disabled=%v up disabled=%v", m.OpacityDown.Disabled, m.OpacityUp.Disabled)
				}
			},
		},
		{
			name: "inactive hotkey",
			st:   State{HotkeyInactive: true},
			check: func(t *testing.T, m Menu) {
				if m.Hotkey.Title != "Reload Hotkey (inactive)" {
					t.Fatalf("Hotkey.Title = %q", m.Hotkey.Title)
				}
			},
		},
		{
			name: "unknown current uses id and no hotkey",
			st:   State{Current: "mystery"},
			check: func(t *testing.T, m Menu) {
				if m.Tooltip != "OverAI: mystery" {
					t.Fatalf("Tooltip = %q", m.Tooltip)
				}
			},
		},
		{
			name: "too many services truncated",
			st: State{Services: func() []services.Target {
				out := make([]services.Target, maxServiceSlots+3)
				for i := range out {
					out[i] = services.Target{ID: string(rune('a' + i)), Name: "x"}
				}
				return out
			}()},
			check: func(t *testing.T, m Menu) {
				for i, item := range m.Services {
					if item.Hidden {
						t.Fatalf("slot %d hidden with more services than slots", i)
					}
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Build(tt.st))
		})
	}
}

func TestClicksBecomeActions(t *testing.T) {
	f := newFakeRenderer()
	useFakeRenderer(t, f)
	var got []Action
	tr := New(func(a Action) { got = append(got, a) })
	startTray(t, tr, State{Current: "grok", Opacity: 0.9, Services: testTargets()})

	f.click(slotToggle)
	f.click(slotReloadPage)
	f.click(1)
	f.click(slotOpacityDown)
	f.click(slotQuit)
	f.click(5)   // hidden service slot
	f.click(999) // unknown slot

	want := []Action{
		{Kind: ActionToggle},
		{Kind: ActionReloadPage},
		{Kind: ActionSwitch, Service: "claude"},
		{Kind: ActionOpacityDown},
		{Kind: ActionQuit},
	}
	if len(got) != len(want) {
		t.Fatalf("actions = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("action[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDisabledItemIgnored(t *testing.T) {
	f := newFakeRenderer()
	useFakeRenderer(t, f)
	calls := 0
	tr := New(func(Action) { calls++ })
	startTray(t, tr, State{Opacity: 1})
	f.click(slotOpacityUp)
	if calls != 0 {
		t.Fatal("click on a disabled item produced an action")
	}
}

func TestUpdateRendersOnlyOnChange(t *testing.T) {
	f := newFakeRenderer()
	useFakeRenderer(t, f)
	tr := New(nil)
	st := State{Current: "grok", Services: testTargets()}
	startTray(t, tr, st)

	tr.Update(st)
	st.Visible = true
	tr.Update(st)

	if f.renderCount() != 2 {
		t.Fatalf("renders = %d, want start plus one change", len(f.renders))
	}
	if tr.Menu().Toggle.Title != "Hide OverAI" {
		t.Fatalf("Menu().Toggle.Title = %q", tr.Menu().Toggle.Title)
	}
}

func TestRunUnsupported(t *testing.T) {
	f := newFakeRenderer()
	f.runErr = ErrUnsupported
	useFakeRenderer(t, f)
	tr := New(nil)
	if err := tr.Run(State{}, func() { t.Error("onReady ran on an unsupported platform") }); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Run() error = %v, want ErrUnsupported", err)
	}
	tr.Update(State{Visible: true})
	tr.Stop()
	if f.stopped != 0 {
		t.Fatal("Stop reached a renderer that is not running")
	}
}

func TestRunTwiceFails(t *testing.T) {
	useFakeRenderer(t, newFakeRenderer())
	tr := New(nil)
	startTray(t, tr, State{})
	if err := tr.Run(State{}, nil); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Run() error = %v, want ErrRunning", err)
	}
}

func TestUpdateBeforeReadyRenderedOnReady(t *testing.T) {
	f := newFakeRenderer()
	tr := New(nil)
	orig := newRendererFn
	newRendererFn = func() renderer { return lateUpdateRenderer{f, tr} }
	t.Cleanup(func() { newRendererFn = orig })

	startTray(t, tr, State{})
	if f.renderCount() != 2 {
		t.Fatalf("renders = %d, want initial plus the update made while building", f.renderCount())
	}
	if tr.Menu().Toggle.Title != "Hide OverAI" {
		t.Fatalf("Menu().Toggle.Title = %q", tr.Menu().Toggle.Title)
	}
}

// lateUpdateRenderer applies an Update after the native menu is built but
// before it reports ready.
type lateUpdateRenderer struct {
	*fakeRenderer
	tr *Tray
}

func (r lateUpdateRenderer) run(m Menu, click func(int), ready func()) error {
	return r.fakeRenderer.run(m, click, func() {
		r.tr.Update(State{Visible: true})
		ready()
	})
}

func TestStopEndsRun(t *testing.T) {
	f := newFakeRenderer()
	useFakeRenderer(t, f)
	tr := New(nil)
	startTray(t, tr, State{})
	tr.Stop()
	tr.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped < 1 {
		t.Fatalf("stopped = %d, want at least 1", f.stopped)
	}
}

func TestActionKindString(t *testing.T) {
	for kind, want := range map[ActionKind]string{
		ActionNone: "none", ActionToggle: "toggle", ActionReloadPage: "reload-page", ActionSwitch: "switch",
		ActionOpacityUp: "opacity-up", ActionOpacityDown: "opacity-down",
		ActionReloadHotkey: "reload-hotkey", ActionQuit: "quit",
	} {
		if kind.String() != want {
			t.Errorf("%d.String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
