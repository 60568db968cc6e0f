package mempressure

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"overai/internal/testutil"
)

const mb = 1024 * 1024

// fakeSampler returns readings in MB, repeating the last one when exhausted.
type fakeSampler struct {
	mu       sync.Mutex
	readings []float64
	err      error
	calls    int
}

func (f *fakeSampler) ResidentBytes() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.readings) == 0 {
		return 0, nil
	}
	v := f.readings[0]
	if len(f.readings) > 1 {
		f.readings = f.readings[1:]
	}
	return uint64(v * mb), nil
}

func (f *fakeSampler) set(readings ...float64) {
	f.mu.Lock()
	f.readings = readings
	f.mu.Unlock()
}

func stubReclaim(t *testing.T) {
	t.Helper()
	origGC, origFree := gcFn, freeOSMemoryFn
	t.Cleanup(func() {
		gcFn = origGC
		freeOSMemoryFn = origFree
	})
	gcFn = func() {}
	freeOSMemoryFn = func() {}
}

func newTestMonitor(t *testing.T, warning float64) (*Monitor, *fakeSampler) {
	t.Helper()
	s := &fakeSampler{}
	m, err := NewMonitor(Thresholds{WarningMB: warning, CriticalMB: warning * 2}, s)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	return m, s
}

func TestShouldCleanup(t *testing.T) {
	tests := []struct {
		name     string
		warning  float64
		previous float64
		current  float64
		want     bool
	}{
		{name: "above warning", warning: 200, previous: 240, current: 250, want: true},
		{name: "fast growth below warning", warning: 200, previous: 60, current: 120, want: true},
		{name: "small growth below warning", warning: 200, previous: 95, current: 100, want: false},
		{name: "growth exactly at delta", warning: 200, previous: 50, current: 100, want: false},
		{name: "shrinking", warning: 200, previous: 180, current: 100, want: false},
		{name: "at warning is not above", warning: 200, previous: 199, current: 200, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, s := newTestMonitor(t, tt.warning)
			m.previousMB = tt.previous
			s.set(tt.current)

			if got := m.ShouldCleanup(); got != tt.want {
				t.Fatalf("ShouldCleanup() = %v, want %v", got, tt.want)
			}
			if m.previousMB != tt.current {
				t.Fatalf("previous = %v after check, want %v", m.previousMB, tt.current)
			}
		})
	}
}

func TestShouldCleanupIsStateful(t *testing.T) {
	m, s := newTestMonitor(t, 200)
	s.set(40, 120, 120)

	if m.ShouldCleanup() {
		t.Fatal("first check at 40MB should not clean up")
	}
	if !m.ShouldCleanup() {
		t.Fatal("growth 40 -> 120 should trigger cleanup")
	}
	if m.ShouldCleanup() {
		t.Fatal("second check at the same level should not trigger again")
	}
}

func TestSampleUnavailableReadsZero(t *testing.T) {
	m, s := newTestMonitor(t, 200)
	s.err = errors.New("no procfs")

	got := m.Sample()
	if got.CurrentMB != 0 {
		t.Fatalf("Sample().CurrentMB = %v, want 0", got.CurrentMB)
	}
	if got.CapturedAt.IsZero() {
		t.Fatal("Sample().CapturedAt not set")
	}
	if m.ShouldCleanup() {
		t.Fatal("ShouldCleanup() with unavailable sampler = true, want false")
	}
}

func TestSampleKeepsPrevious(t *testing.T) {
	m, s := newTestMonitor(t, 200)
	s.set(80, 90)
	m.ShouldCleanup()

	got := m.Sample()
	if got.CurrentMB != 90 || got.PreviousMB != 80 {
		t.Fatalf("Sample() = %+v, want current 90 previous 80", got)
	}
	if m.Last() != got {
		t.Fatalf("Last() = %+v, want %+v", m.Last(), got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		current float64
		want    Level
	}{
		{current: 0, want: LevelNormal},
		{current: 200, want: LevelNormal},
		{current: 201, want: LevelWarning},
		{current: 400, want: LevelWarning},
		{current: 401, want: LevelCritical},
	}
	for _, tt := range tests {
		m, s := newTestMonitor(t, 200)
		s.set(tt.current)
		m.Sample()
		calls := s.calls

		if got := m.Classify(); got != tt.want {
			t.Errorf("Classify() at %vMB = %v, want %v", tt.current, got, tt.want)
		}
		if s.calls != calls {
			t.Errorf("Classify() read memory, want a pure query")
		}
	}
}

func TestRunCleanupSurvivesFailingCallbacks(t *testing.T) {
	stubReclaim(t)
	m, s := newTestMonitor(t, 200)
	s.set(300, 250)
	logBuf := testutil.CaptureLogBuffer(t, 0)

	var order []string
	m.RegisterCleanup("errors", func() error {
		order = append(order, "errors")
		return errors.New("webview gone")
	})
	m.RegisterCleanup("panics", func() error {
		order = append(order, "panics")
		panic("boom")
	})
	m.RegisterCleanup("succeeds", func() error {
		order = append(order, "succeeds")
		return nil
	})

	freed := m.RunCleanup()

	if strings.Join(order, ",") != "errors,panics,succeeds" {
		t.Fatalf("callback order = %v, want registration order", order)
	}
	if freed != 50 {
		t.Fatalf("RunCleanup() = %v, want 50", freed)
	}
	logs := logBuf.String()
	for _, want := range []string{"webview gone", "cleanup callback panicked"} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestRunCleanupMayReportNegative(t *testing.T) {
	stubReclaim(t)
	m, s := newTestMonitor(t, 200)
	s.set(100, 130)
	if got := m.RunCleanup(); got != -30 {
		t.Fatalf("RunCleanup() = %v, want -30", got)
	}
	if last := m.Last(); last.PreviousMB != 130 || last.CurrentMB != 130 {
		t.Fatalf("Last() = %+v, want the post-cleanup reading", last)
	}
}

func TestRunCleanupRequestsReclamation(t *testing.T) {
	var gcCalls, freeCalls int
	origGC, origFree := gcFn, freeOSMemoryFn
	t.Cleanup(func() {
		gcFn = origGC
		freeOSMemoryFn = origFree
	})
	gcFn = func() { gcCalls++ }
	freeOSMemoryFn = func() { freeCalls++ }

	m, _ := newTestMonitor(t, 200)
	m.RunCleanup()
	if gcCalls != 1 || freeCalls != 1 {
		t.Fatalf("gc=%d free=%d, want one of each", gcCalls, freeCalls)
	}
}

func TestUnregister(t *testing.T) {
	stubReclaim(t)
	m, _ := newTestMonitor(t, 200)
	calls := 0
	unregister := m.RegisterCleanup("once", func() error { calls++; return nil })
	m.RegisterCleanup("other", func() error { return nil })

	m.RunCleanup()
	unregister()
	unregister()
	m.RunCleanup()

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if m.HandlerCount() != 1 {
		t.Fatalf("HandlerCount() = %d, want 1", m.HandlerCount())
	}
}

func TestRegisterCleanupNil(t *testing.T) {
	m, _ := newTestMonitor(t, 200)
	m.RegisterCleanup("nil", nil)()
	if m.HandlerCount() != 0 {
		t.Fatalf("HandlerCount() = %d, want 0", m.HandlerCount())
	}
}

type webviewOwner struct {
	name    string
	buf     [64]byte
	cleaned *int
}

func (o *webviewOwner) release() error {
	*o.cleaned++
	return nil
}

func TestRegisterOwnedDoesNotExtendLifetime(t *testing.T) {
	stubReclaim(t)
	m, _ := newTestMonitor(t, 200)
	cleaned := 0

	kept := &webviewOwner{name: "kept", cleaned: &cleaned}
	RegisterOwned(m, "kept", kept, (*webviewOwner).release)
	func() {
		gone := &webviewOwner{name: "gone", cleaned: &cleaned}
		RegisterOwned(m, "gone", gone, (*webviewOwner).release)
	}()

	runtime.GC()
	runtime.GC()
	m.RunCleanup()

	if cleaned != 1 {
		t.Fatalf("cleaned = %d, want only the live owner", cleaned)
	}
	if m.HandlerCount() != 1 {
		t.Fatalf("HandlerCount() = %d, want collected owner pruned", m.HandlerCount())
	}
	runtime.KeepAlive(kept)
}

func TestThresholdValidation(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
		ok   bool
	}{
		{name: "defaults", th: DefaultThresholds(), ok: true},
		{name: "zero growth", th: Thresholds{WarningMB: 100, CriticalMB: 150}, ok: true},
		{name: "equal", th: Thresholds{WarningMB: 200, CriticalMB: 200}},
		{name: "inverted", th: Thresholds{WarningMB: 400, CriticalMB: 200}},
		{name: "zero warning", th: Thresholds{CriticalMB: 200}},
		{name: "negative growth", th: Thresholds{WarningMB: 100, CriticalMB: 200, GrowthMB: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.th.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidThresholds) {
				t.Fatalf("Validate() error = %v, want ErrInvalidThresholds", err)
			}
		})
	}
}

func TestSetThresholds(t *testing.T) {
	m, s := newTestMonitor(t, 200)
	if err := m.SetThresholds(Thresholds{WarningMB: 500, CriticalMB: 100}); err == nil {
		t.Fatal("SetThresholds(inverted) expected error")
	}
	if m.Thresholds().WarningMB != 200 {
		t.Fatalf("invalid thresholds replaced the active ones: %+v", m.Thresholds())
	}

	if err := m.SetThresholds(Thresholds{WarningMB: 300, CriticalMB: 600}); err != nil {
		t.Fatalf("SetThresholds() error = %v", err)
	}
	if m.Thresholds().GrowthMB != DefaultGrowthMB {
		t.Fatalf("GrowthMB = %v, want default", m.Thresholds().GrowthMB)
	}
	m.previousMB = 240
	s.set(250)
	if m.ShouldCleanup() {
		t.Fatal("250MB under a 300MB warning should not clean up")
	}
}

func TestLevelString(t *testing.T) {
	for level, want := range map[Level]string{LevelNormal: "normal", LevelWarning: "warning", LevelCritical: "critical"} {
		if level.String() != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, level.String(), want)
		}
	}
}

func TestProcessSamplerReadsOwnProcess(t *testing.T) {
	got, err := NewProcessSampler().ResidentBytes()
	if err != nil {
		t.Skipf("process memory unavailable on this host: %v", err)
	}
	if got == 0 {
		t.Fatal("ResidentBytes() = 0 for a running process")
	}
}
