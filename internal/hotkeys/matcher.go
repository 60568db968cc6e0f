package hotkeys

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDebounce is the minimum gap between two honoured triggers. It absorbs
// key repeat while the combination is held down.
const DefaultDebounce = 200 * time.Millisecond

// Matcher decides whether a key-down event activates the overlay.
//
// Configure may run on any goroutine. OnEvent is meant to run on the event
// loop only; the mutex keeps the timestamp consistent if that is violated.
type Matcher struct {
	combo    atomic.Pointer[Combination]
	debounce atomic.Int64

	// nowFn is a test seam.
	nowFn func() time.Time

	mu          sync.Mutex
	lastTrigger time.Time
	triggered   bool
}

// NewMatcher returns a matcher armed with c and the default debounce window.
func NewMatcher(c Combination) *Matcher {
	m := &Matcher{nowFn: time.Now}
	m.Configure(c)
	m.debounce.Store(int64(DefaultDebounce))
	return m
}

// Configure replaces the active combination. Later events see the new value.
func (m *Matcher) Configure(c Combination) {
	m.combo.Store(&c)
}

// Combination returns the active combination.
func (m *Matcher) Combination() Combination {
	return *m.combo.Load()
}

// SetDebounce changes the debounce window. Non-positive values restore the default.
func (m *Matcher) SetDebounce(d time.Duration) {
	if d <= 0 {
		d = DefaultDebounce
	}
	m.debounce.Store(int64(d))
}

// Debounce returns the current debounce window.
func (m *Matcher) Debounce() time.Duration {
	return time.Duration(m.debounce.Load())
}

// OnEvent returns true when the event matches the active combination and the
// debounce window has elapsed since the last honoured match. A true result
// means the caller should fire the trigger and consume the OS event.
// Events that do not match never touch the trigger timestamp.
func (m *Matcher) OnEvent(mods Modifier, key KeyCode) bool {
	combo := m.combo.Load()
	if combo == nil || !combo.Matches(mods, key) {
		return false
	}

	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggered && now.Sub(m.lastTrigger) < m.Debounce() {
		return false
	}
	m.lastTrigger = now
	m.triggered = true
	return true
}
