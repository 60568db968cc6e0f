// Package tray implements the menu-bar item shown by the overai-tray helper
// process. The menu is computed from a State snapshot by pure functions; the
// native binding only renders it.
package tray

import (
	"fmt"

	"overai/internal/services"
)

// maxServiceSlots bounds the service submenu. Native menus are built once, so
// slots are pre-allocated and shown or hidden.
const maxServiceSlots = 10

// ActionKind identifies what a menu click asks the app to do.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionToggle
	ActionReloadPage
	ActionSwitch
	ActionOpacityUp
	ActionOpacityDown
	ActionReloadHotkey
	ActionQuit
)

func (k ActionKind) String() string {
	switch k {
	case ActionToggle:
		return "toggle"
	case ActionReloadPage:
		return "reload-page"
	case ActionSwitch:
		return "switch"
	case ActionOpacityUp:
		return "opacity-up"
	case ActionOpacityDown:
		return "opacity-down"
	case ActionReloadHotkey:
		return "reload-hotkey"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

// Action is one menu click. Service is set for ActionSwitch.
type Action struct {
	Kind    ActionKind
	Service string
}

// State is what the menu reflects.
type State struct {
	Visible  bool
	Current  string
	Opacity  float64
	Hotkey   string
	Services []services.Target
	// HotkeyInactive marks a listener that could not be installed.
	HotkeyInactive bool
}

// Item is one rendered menu entry.
type Item struct {
	Title    string
	Tooltip  string
	Action   Action
	Checked  bool
	Disabled bool
	Hidden   bool
}

// Menu is the full rendered menu in display order.
type Menu struct {
	Toggle      Item
	ReloadPage  Item
	Services    [maxServiceSlots]Item
	OpacityUp   Item
	OpacityDown Item
	Hotkey      Item
	Quit        Item
	Tooltip     string
}

// Build renders st into a Menu. Services beyond maxServiceSlots are dropped.
func Build(st State) Menu {
	m := Menu{
		Toggle:      Item{Title: toggleTitle(st.Visible), Action: Action{Kind: ActionToggle}},
		ReloadPage:  Item{Title: "Reload Page", Tooltip: "Reload the current service", Action: Action{Kind: ActionReloadPage}},
		OpacityUp:   Item{Title: "Increase Opacity", Action: Action{Kind: ActionOpacityUp}, Disabled: st.Opacity >= 1},
		OpacityDown: Item{Title: "Decrease Opacity", Action: Action{Kind: ActionOpacityDown}, Disabled: st.Opacity > 0 && st.Opacity <= 0.2},
		Hotkey:      hotkeyItem(st),
		Quit:        Item{Title: "Quit OverAI", Action: Action{Kind: ActionQuit}},
		Tooltip:     tooltip(st),
	}
	for i := range m.Services {
		if i >= len(st.Services) {
			m.Services[i] = Item{Hidden: true}
			continue
		}
		target := st.Services[i]
		m.Services[i] = Item{
			Title:   target.Name,
			Tooltip: target.URL,
			Action:  Action{Kind: ActionSwitch, Service: target.ID},
			Checked: target.ID == st.Current,
		}
	}
	return m
}

func toggleTitle(visible bool) string {
	if visible {
		return "Hide OverAI"
	}
	return "Show OverAI"
}

func hotkeyItem(st State) Item {
	title := "Reload Hotkey"
	if st.HotkeyInactive {
		title = "Reload Hotkey (inactive)"
	}
	return Item{Title: title, Tooltip: "Re-register " + st.Hotkey, Action: Action{Kind: ActionReloadHotkey}}
}

func tooltip(st State) string {
	name := st.Current
	for _, t := range st.Services {
		if t.ID == st.Current {
			name = t.Name
			break
		}
	}
	if st.Hotkey == "" {
		return fmt.Sprintf("OverAI: %s", name)
	}
	return fmt.Sprintf("OverAI: %s (%s)", name, st.Hotkey)
}
