// Package lifecycle connects the hotkey and the memory monitor to the app
// shell through two hooks, and owns the periodic memory check.
package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"overai/internal/eventloop"
	"overai/internal/mempressure"
)

const (
	DefaultCheckInterval = 60 * time.Second
	MinCheckInterval     = 10 * time.Second
	MaxCheckInterval     = 10 * time.Minute
)

// ClampInterval maps zero to the default and clamps into
// [MinCheckInterval, MaxCheckInterval].
func ClampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultCheckInterval
	}
	return min(max(d, MinCheckInterval), MaxCheckInterval)
}

// Lifecycle is driven from the event loop: HandleHotkey and Tick must run
// there.
type Lifecycle struct {
	loop    *eventloop.Loop
	monitor *mempressure.Monitor

	mu         sync.Mutex
	onToggle   func()
	onPressure func(level mempressure.Level, freedMB float64)
	interval   time.Duration
	parent     context.Context
	stopTicker context.CancelFunc
}

// New returns a lifecycle that checks memory every interval once started.
func New(loop *eventloop.Loop, monitor *mempressure.Monitor, interval time.Duration) *Lifecycle {
	return &Lifecycle{
		loop:     loop,
		monitor:  monitor,
		interval: ClampInterval(interval),
	}
}

// OnToggleRequested sets the hook run when the hotkey fires.
func (l *Lifecycle) OnToggleRequested(cb func()) {
	l.mu.Lock()
	l.onToggle = cb
	l.mu.Unlock()
}

// OnMemoryPressure sets the hook run after each cleanup pass with the level
// observed before cleaning and the megabytes freed.
func (l *Lifecycle) OnMemoryPressure(cb func(level mempressure.Level, freedMB float64)) {
	l.mu.Lock()
	l.onPressure = cb
	l.mu.Unlock()
}

// HandleHotkey is the matcher's trigger callback.
func (l *Lifecycle) HandleHotkey() {
	l.mu.Lock()
	cb := l.onToggle
	l.mu.Unlock()
	if cb == nil {
		slog.Debug("[DEBUG-hotkey] hotkey fired with no toggle hook")
		return
	}
	cb()
}

// Tick runs one memory check and reports whether a cleanup pass ran.
func (l *Lifecycle) Tick() bool {
	if !l.monitor.ShouldCleanup() {
		return false
	}
	level := l.monitor.Classify()
	sample := l.monitor.Last()
	slog.Info("[DEBUG-memory] memory pressure, running cleanup",
		"level", level.String(), "currentMB", sample.CurrentMB, "previousMB", sample.PreviousMB)
	freed := l.monitor.RunCleanup()

	l.mu.Lock()
	cb := l.onPressure
	l.mu.Unlock()
	if cb != nil {
		cb(level, freed)
	}
	return true
}

// Start schedules Tick on the loop every interval until ctx is done.
func (l *Lifecycle) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.parent = ctx
	l.restartLocked()
}

// SetInterval applies a new check interval, restarting the ticker when
// running. It returns the clamped value.
func (l *Lifecycle) SetInterval(d time.Duration) time.Duration {
	d = ClampInterval(d)
	l.mu.Lock()
	defer l.mu.Unlock()
	if d == l.interval {
		return d
	}
	l.interval = d
	if l.parent != nil {
		l.restartLocked()
	}
	slog.Debug("[DEBUG-memory] check interval changed", "interval", d)
	return d
}

// Interval returns the active check interval.
func (l *Lifecycle) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

func (l *Lifecycle) restartLocked() {
	if l.stopTicker != nil {
		l.stopTicker()
	}
	ctx, cancel := context.WithCancel(l.parent)
	l.stopTicker = cancel
	l.loop.Every(ctx, l.interval, func() { l.Tick() })
}

// Stop cancels the periodic check.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopTicker != nil {
		l.stopTicker()
		l.stopTicker = nil
	}
	l.parent = nil
}
