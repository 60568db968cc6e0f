//go:build darwin || windows

package tray

import (
	_ "embed"

	"github.com/getlantern/systray"
)

//go:embed icon.png
var iconPNG []byte

//go:embed icon.ico
var iconICO []byte

type systrayRenderer struct {
	items map[int]*systray.MenuItem
}

func newPlatformRenderer() renderer {
	return &systrayRenderer{items: make(map[int]*systray.MenuItem)}
}

// run owns NSApplication (or the Win32 message loop) for this process and
// blocks until stop.
func (r *systrayRenderer) run(m Menu, click func(slot int), ready func()) error {
	systray.Run(func() {
		r.build(m, click)
		ready()
	}, nil)
	return nil
}

func (r *systrayRenderer) build(m Menu, click func(slot int)) {
	systray.SetTemplateIcon(iconPNG, iconICO)

	r.add(slotToggle, m.Toggle, click)
	r.add(slotReloadPage, m.ReloadPage, click)
	systray.AddSeparator()

	services := systray.AddMenuItem("Service", "Switch the content target")
	for i, item := range m.Services {
		mi := services.AddSubMenuItemCheckbox(item.Title, item.Tooltip, item.Checked)
		r.items[i] = mi
		watch(mi, i, click)
	}
	systray.AddSeparator()

	r.add(slotOpacityUp, m.OpacityUp, click)
	r.add(slotOpacityDown, m.OpacityDown, click)
	r.add(slotHotkey, m.Hotkey, click)
	systray.AddSeparator()
	r.add(slotQuit, m.Quit, click)

	r.apply(m)
}

func (r *systrayRenderer) add(slot int, item Item, click func(int)) {
	mi := systray.AddMenuItem(item.Title, item.Tooltip)
	r.items[slot] = mi
	watch(mi, slot, click)
}

func watch(mi *systray.MenuItem, slot int, click func(int)) {
	go func() {
		for range mi.ClickedCh {
			click(slot)
		}
	}()
}

func (r *systrayRenderer) render(m Menu) {
	r.apply(m)
}

func (r *systrayRenderer) apply(m Menu) {
	systray.SetTooltip(m.Tooltip)
	for slot, mi := range r.items {
		item, ok := itemAt(m, slot)
		if !ok {
			continue
		}
		if item.Hidden {
			mi.Hide()
			continue
		}
		mi.SetTitle(item.Title)
		mi.SetTooltip(item.Tooltip)
		if item.Checked {
			mi.Check()
		} else {
			mi.Uncheck()
		}
		if item.Disabled {
			mi.Disable()
		} else {
			mi.Enable()
		}
		mi.Show()
	}
}

func (r *systrayRenderer) stop() {
	systray.Quit()
}
