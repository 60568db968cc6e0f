package hotkeys

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPermissionUnavailable means the OS refused to install the global key
// listener: accessibility permission missing, combination owned by another
// app, or no support on this platform. The hotkey stays inert.
var ErrPermissionUnavailable = errors.New("global hotkey listener unavailable")

// listener is the platform hook that reports key-down events for a registered
// combination.
type listener interface {
	Register(c Combination, onKeydown func(mods Modifier, key KeyCode)) error
	Unregister() error
}

// newListenerFn is a test seam.
var newListenerFn = newPlatformListener

// Dispatcher schedules fn on the event loop. It returns false when the loop
// no longer accepts work.
type Dispatcher func(fn func()) bool

// Manager owns the global listener registration and routes its events
// through the Matcher on the event loop.
type Manager struct {
	matcher  *Matcher
	store    *Store
	dispatch Dispatcher

	mu        sync.Mutex
	listener  listener
	onTrigger func()
}

// NewManager wires matcher, store and the event-loop dispatcher. A nil
// dispatch runs events inline on the listener goroutine.
func NewManager(matcher *Matcher, store *Store, dispatch Dispatcher) *Manager {
	if dispatch == nil {
		dispatch = func(fn func()) bool { fn(); return true }
	}
	return &Manager{matcher: matcher, store: store, dispatch: dispatch}
}

// Matcher returns the matcher used for event decisions.
func (m *Manager) Matcher() *Matcher { return m.matcher }

// StartListening installs the OS listener for the matcher's combination and
// binds onTrigger to honoured events. It reports failure through the return
// value only; the reason is logged and the app keeps running without a hotkey.
func (m *Manager) StartListening(onTrigger func()) bool {
	if onTrigger == nil {
		slog.Error("[DEBUG-hotkey] StartListening called without a trigger callback")
		return false
	}
	m.mu.Lock()
	m.onTrigger = onTrigger
	m.mu.Unlock()
	return m.Rearm()
}

// Rearm (re)installs the listener with the current combination. Used after
// the user grants permission or when the previous attempt failed.
func (m *Manager) Rearm() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onTrigger == nil {
		slog.Debug("[DEBUG-hotkey] rearm skipped: listening was never started")
		return false
	}
	if err := m.registerLocked(m.matcher.Combination()); err != nil {
		slog.Warn("[DEBUG-hotkey] global hotkey unavailable, hotkey is inert until re-armed",
			"combo", m.matcher.Combination().String(), "error", err)
		return false
	}
	slog.Info("[DEBUG-hotkey] global hotkey registered", "combo", m.matcher.Combination().String())
	return true
}

// Reconfigure persists c, swaps it into the matcher and re-registers the
// listener when listening. A registration failure is returned wrapped in
// ErrPermissionUnavailable; the new combination stays saved either way.
func (m *Manager) Reconfigure(c Combination) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidCombination, c)
	}
	if m.store != nil {
		if err := m.store.Save(c); err != nil {
			return err
		}
	}
	m.matcher.Configure(c)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onTrigger == nil {
		return nil
	}
	return m.registerLocked(c)
}

// Armed reports whether an OS listener is currently installed.
func (m *Manager) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listener != nil
}

// Stop unregisters the listener. Safe to call when nothing is registered.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unregisterLocked()
}

func (m *Manager) registerLocked(c Combination) error {
	if err := m.unregisterLocked(); err != nil {
		slog.Warn("[DEBUG-hotkey] failed to unregister previous listener", "error", err)
	}
	l := newListenerFn()
	if err := l.Register(c, m.deliver); err != nil {
		if !errors.Is(err, ErrPermissionUnavailable) {
			err = fmt.Errorf("%w: %v", ErrPermissionUnavailable, err)
		}
		return err
	}
	m.listener = l
	metricListenerArmed.Set(1)
	return nil
}

func (m *Manager) unregisterLocked() error {
	if m.listener == nil {
		return nil
	}
	err := m.listener.Unregister()
	m.listener = nil
	metricListenerArmed.Set(0)
	return err
}

// deliver runs on the listener goroutine and hands the event to the loop.
func (m *Manager) deliver(mods Modifier, key KeyCode) {
	ok := m.dispatch(func() {
		if !m.matcher.OnEvent(mods, key) {
			metricDebounced.Inc()
			return
		}
		metricTriggers.Inc()
		m.mu.Lock()
		onTrigger := m.onTrigger
		m.mu.Unlock()
		if onTrigger != nil {
			onTrigger()
		}
	})
	if !ok {
		slog.Debug("[DEBUG-hotkey] event dropped: event loop stopped")
	}
}
