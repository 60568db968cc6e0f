// Package mempressure samples process resident memory and runs registered
// cleanup callbacks when usage crosses a threshold or grows too fast.
//
// The monitor has no timer of its own. The application lifecycle decides when
// to call ShouldCleanup and RunCleanup.
package mempressure

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const (
	DefaultWarningMB  = 200
	DefaultCriticalMB = 400
	// DefaultGrowthMB is the growth between two checks that triggers a cleanup
	// even below the warning threshold.
	DefaultGrowthMB = 50
)

// ErrInvalidThresholds is returned by NewMonitor and SetThresholds.
var ErrInvalidThresholds = errors.New("invalid memory thresholds")

// Level classifies the last sample.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Thresholds are in megabytes. WarningMB must be below CriticalMB.
type Thresholds struct {
	WarningMB  float64
	CriticalMB float64
	GrowthMB   float64
}

// DefaultThresholds returns 200/400 with a 50 MB growth trigger.
func DefaultThresholds() Thresholds {
	return Thresholds{WarningMB: DefaultWarningMB, CriticalMB: DefaultCriticalMB, GrowthMB: DefaultGrowthMB}
}

// Validate checks the ordering invariant. A zero GrowthMB is accepted and
// replaced by the default in normalized.
func (t Thresholds) Validate() error {
	if t.WarningMB <= 0 {
		return fmt.Errorf("%w: warning must be positive, got %v", ErrInvalidThresholds, t.WarningMB)
	}
	if t.CriticalMB <= t.WarningMB {
		return fmt.Errorf("%w: warning (%v) must be below critical (%v)", ErrInvalidThresholds, t.WarningMB, t.CriticalMB)
	}
	if t.GrowthMB < 0 {
		return fmt.Errorf("%w: growth must not be negative, got %v", ErrInvalidThresholds, t.GrowthMB)
	}
	return nil
}

func (t Thresholds) normalized() Thresholds {
	if t.GrowthMB == 0 {
		t.GrowthMB = DefaultGrowthMB
	}
	return t
}

// Sample is one memory reading.
type Sample struct {
	CurrentMB  float64
	PreviousMB float64
	CapturedAt time.Time
}

type handler struct {
	id   uint64
	name string
	run  func() error
	// alive reports false once a weakly held owner has been collected.
	alive func() bool
}

// Monitor is safe for concurrent use, but the application calls it from the
// event loop only.
type Monitor struct {
	sampler Sampler
	nowFn   func() time.Time

	mu         sync.Mutex
	thresholds Thresholds
	currentMB  float64
	previousMB float64
	capturedAt time.Time
	handlers   []*handler
	nextID     uint64
}

// Reclamation hooks; replaced in tests.
var (
	gcFn           = runtime.GC
	freeOSMemoryFn = debug.FreeOSMemory
)

// NewMonitor validates t. A nil sampler reads this process's RSS.
func NewMonitor(t Thresholds, sampler Sampler) (*Monitor, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil {
		sampler = NewProcessSampler()
	}
	return &Monitor{
		sampler:    sampler,
		nowFn:      time.Now,
		thresholds: t.normalized(),
	}, nil
}

// Thresholds returns the active thresholds.
func (m *Monitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// SetThresholds swaps the thresholds after a config reload. Invalid
// thresholds leave the current ones in place.
func (m *Monitor) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.thresholds = t.normalized()
	m.mu.Unlock()
	return nil
}

// readMB never fails: an unavailable sampler reads as 0.
func (m *Monitor) readMB() float64 {
	b, err := m.sampler.ResidentBytes()
	if err != nil {
		slog.Debug("[DEBUG-memory] resident memory unavailable", "error", err)
		return 0
	}
	mb := float64(b) / (1024 * 1024)
	metricResidentMB.Set(mb)
	return mb
}

// Sample reads resident memory and records it as the current value. The
// previous value is left for ShouldCleanup to advance.
func (m *Monitor) Sample() Sample {
	mb := m.readMB()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentMB = mb
	m.capturedAt = m.nowFn()
	return m.sampleLocked()
}

// Last returns the most recent sample without reading memory.
func (m *Monitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampleLocked()
}

func (m *Monitor) sampleLocked() Sample {
	return Sample{CurrentMB: m.currentMB, PreviousMB: m.previousMB, CapturedAt: m.capturedAt}
}

// ShouldCleanup samples memory and reports whether it is above the warning
// threshold or grew by more than GrowthMB since the previous check. It then
// advances previous to current, so call it at most once per tick.
func (m *Monitor) ShouldCleanup() bool {
	m.Sample()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decideLocked()
}

func (m *Monitor) decideLocked() bool {
	current, previous := m.currentMB, m.previousMB
	m.previousMB = current
	if current > m.thresholds.WarningMB {
		return true
	}
	return current-previous > m.thresholds.GrowthMB
}

// Classify is pure: it looks at the last sample only.
func (m *Monitor) Classify() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.currentMB > m.thresholds.CriticalMB:
		return LevelCritical
	case m.currentMB > m.thresholds.WarningMB:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// RegisterCleanup appends fn to the cleanup list. The returned func removes
// it and may be called more than once.
func (m *Monitor) RegisterCleanup(name string, fn func() error) (unregister func()) {
	if fn == nil {
		return func() {}
	}
	return m.add(name, fn, nil)
}

func (m *Monitor) add(name string, run func() error, alive func() bool) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.handlers = append(m.handlers, &handler{id: id, name: name, run: run, alive: alive})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(id) })
	}
}

func (m *Monitor) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, h := range m.handlers {
		if h.id == id {
			m.handlers = append(m.handlers[:i], m.handlers[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of registered callbacks, including owned
// ones whose owner has not been pruned yet.
func (m *Monitor) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// RunCleanup runs every callback in registration order, then forces a
// collection and returns memory before minus memory after in MB. The result
// is negative when memory grew during the pass. Callback errors and panics
// are logged and never stop the remaining callbacks.
func (m *Monitor) RunCleanup() float64 {
	before := m.readMB()

	m.mu.Lock()
	handlers := make([]*handler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	var dead []uint64
	for _, h := range handlers {
		if h.alive != nil && !h.alive() {
			dead = append(dead, h.id)
			continue
		}
		runHandler(h)
	}
	for _, id := range dead {
		m.remove(id)
	}
	if len(dead) > 0 {
		slog.Debug("[DEBUG-memory] pruned cleanup callbacks of collected owners", "count", len(dead))
	}

	gcFn()
	freeOSMemoryFn()

	after := m.readMB()
	m.mu.Lock()
	m.currentMB = after
	m.previousMB = after
	m.capturedAt = m.nowFn()
	m.mu.Unlock()

	freed := before - after
	metricCleanupRuns.Inc()
	metricLastFreedMB.Set(freed)
	slog.Debug("[DEBUG-memory] cleanup pass finished",
		"beforeMB", before, "afterMB", after, "freedMB", freed, "handlers", len(handlers)-len(dead))
	return freed
}

func runHandler(h *handler) {
	defer func() {
		if r := recover(); r != nil {
			metricHandlerFailures.Inc()
			slog.Error("[DEBUG-PANIC] cleanup callback panicked",
				"callback", h.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	if err := h.run(); err != nil {
		metricHandlerFailures.Inc()
		slog.Warn("[DEBUG-memory] cleanup callback failed", "callback", h.name, "error", err)
	}
}
