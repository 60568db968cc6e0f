package tray

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrUnsupported is returned by Run where no tray is available.
var ErrUnsupported = errors.New("tray not supported on this platform")

// ErrRunning is returned by a second Run while the first still blocks.
var ErrRunning = errors.New("tray already running")

// renderer draws a Menu natively. run owns the native loop and blocks until
// stop; ready fires once the menu exists.
type renderer interface {
	run(m Menu, click func(slot int), ready func()) error
	render(m Menu)
	stop()
}

// Slots addressed by click(slot). Service slots come first.
const (
	slotToggle = maxServiceSlots + iota
	slotReloadPage
	slotOpacityUp
	slotOpacityDown
	slotHotkey
	slotQuit
)

var newRendererFn = newPlatformRenderer

// Tray owns the current menu and turns native clicks into Actions.
type Tray struct {
	onAction func(Action)

	mu    sync.Mutex
	menu  Menu
	r     renderer
	ready bool
}

// New returns a Tray that reports clicks to onAction. onAction runs on a
// click goroutine and must not block the native loop for long.
func New(onAction func(Action)) *Tray {
	return &Tray{onAction: onAction}
}

// Run renders st and blocks on the native loop until Stop. On macOS it must
// be called from the main goroutine of a process that owns no other
// NSApplication delegate. onReady runs once the menu is visible.
func (t *Tray) Run(st State, onReady func()) error {
	t.mu.Lock()
	if t.r != nil {
		t.mu.Unlock()
		return ErrRunning
	}
	t.menu = Build(st)
	r := newRendererFn()
	t.r = r
	initial := t.menu
	t.mu.Unlock()

	slog.Debug("[DEBUG-tray] tray starting")
	err := r.run(initial, t.click, func() {
		t.markReady(r, initial)
		if onReady != nil {
			onReady()
		}
	})

	t.mu.Lock()
	t.r = nil
	t.ready = false
	t.mu.Unlock()
	return err
}

// markReady renders any Update that arrived while the native menu was being
// built.
func (t *Tray) markReady(r renderer, initial Menu) {
	t.mu.Lock()
	t.ready = true
	latest := t.menu
	t.mu.Unlock()
	slog.Debug("[DEBUG-tray] tray ready")
	if latest != initial {
		r.render(latest)
	}
}

// Update re-renders when st changes the menu.
func (t *Tray) Update(st State) {
	m := Build(st)
	t.mu.Lock()
	if !t.ready || m == t.menu {
		t.menu = m
		t.mu.Unlock()
		return
	}
	t.menu = m
	r := t.r
	t.mu.Unlock()
	r.render(m)
}

// Menu returns the last built menu.
func (t *Tray) Menu() Menu {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.menu
}

// Stop ends the native loop and makes Run return. No-op when not running.
func (t *Tray) Stop() {
	t.mu.Lock()
	r := t.r
	t.mu.Unlock()
	if r != nil {
		r.stop()
	}
}

func (t *Tray) click(slot int) {
	t.mu.Lock()
	item, ok := itemAt(t.menu, slot)
	t.mu.Unlock()
	if !ok || item.Disabled || item.Hidden || item.Action.Kind == ActionNone {
		return
	}
	slog.Debug("[DEBUG-tray] menu click", "action", item.Action.Kind.String(), "service", item.Action.Service)
	if t.onAction != nil {
		t.onAction(item.Action)
	}
}

func itemAt(m Menu, slot int) (Item, bool) {
	switch {
	case slot >= 0 && slot < maxServiceSlots:
		return m.Services[slot], true
	case slot == slotToggle:
		return m.Toggle, true
	case slot == slotReloadPage:
		return m.ReloadPage, true
	case slot == slotOpacityUp:
		return m.OpacityUp, true
	case slot == slotOpacityDown:
		return m.OpacityDown, true
	case slot == slotHotkey:
		return m.Hotkey, true
	case slot == slotQuit:
		return m.Quit, true
	}
	return Item{}, false
}
