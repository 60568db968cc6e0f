// Package visibility implements the Hidden/Visible state machine of the
// overlay window and coordinates suspending and resuming its web content.
package visibility

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"overai/internal/services"
	"overai/internal/windowstate"
)

// OpacityStep is the change applied by AdjustOpacity.
const OpacityStep = 0.1

var (
	// ErrSuspendFailed wraps a Content.Suspend failure.
	ErrSuspendFailed = errors.New("suspend web content")
	// ErrResumeFailed wraps a Content.Resume failure.
	ErrResumeFailed = errors.New("resume web content")
)

// State is the logical visibility of the overlay.
type State int

const (
	Hidden State = iota
	Visible
)

func (s State) String() string {
	if s == Visible {
		return "visible"
	}
	return "hidden"
}

// Window is the host window.
type Window interface {
	// PresentNonActivating shows the window above other apps without
	// stealing activation from the frontmost one where the platform allows.
	PresentNonActivating() error
	Dismiss() error
	SetAlpha(alpha float64) error
	IsOSVisible() bool
}

// Sizer is optionally implemented by a Window to report its frame size so it
// can be persisted on hide.
type Sizer interface {
	Size() (width, height int, err error)
}

// Content is the embedded web view.
type Content interface {
	Suspend() error
	Resume(target services.Target) error
	Load(target services.Target) error
	FocusPrimaryInput() error
}

// Options wires a Controller.
type Options struct {
	Window  Window
	Content Content
	Store   *windowstate.Store
	Catalog *services.Catalog
	// Cleanup runs after every hide and returns megabytes freed. Usually the
	// memory monitor's RunCleanup.
	Cleanup func() float64
}

// Status is a snapshot for the tray and the status IPC command.
type Status struct {
	State     State
	Suspended bool
	Service   services.Target
	Opacity   float64
}

// Controller owns the visibility state. Collaborator calls happen outside
// the mutex; callers are expected to serialize Show, Hide and Toggle on the
// event loop.
type Controller struct {
	window  Window
	content Content
	store   *windowstate.Store
	catalog *services.Catalog
	cleanup func() float64

	toggling atomic.Bool

	mu        sync.Mutex
	state     State
	suspended bool
	current   services.Target
	opacity   float64
}

// New builds a Hidden, not suspended controller seeded from the persisted
// window state.
func New(opts Options) (*Controller, error) {
	if opts.Window == nil || opts.Content == nil {
		return nil, errors.New("visibility: window and content are required")
	}
	if opts.Store == nil {
		return nil, errors.New("visibility: window state store is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = services.NewCatalog()
	}
	st := opts.Store.Load()
	return &Controller{
		window:  opts.Window,
		content: opts.Content,
		store:   opts.Store,
		catalog: opts.Catalog,
		cleanup: opts.Cleanup,
		state:   Hidden,
		current: opts.Catalog.ResolveOrDefault(st.LastService),
		opacity: st.Opacity,
	}, nil
}

// Restore loads the last service and applies the saved opacity. Called once
// after the window exists; the window stays hidden.
func (c *Controller) Restore() error {
	c.mu.Lock()
	target, opacity := c.current, c.opacity
	c.mu.Unlock()

	if err := c.window.SetAlpha(opacity); err != nil {
		slog.Warn("[DEBUG-window] failed to apply saved opacity", "opacity", opacity, "error", err)
	}
	if err := c.content.Load(target); err != nil {
		return fmt.Errorf("load %s: %w", target.ID, err)
	}
	return nil
}

// Show resumes suspended content, presents the window and focuses the chat
// input. On resume failure the controller stays Hidden and suspended.
func (c *Controller) Show() error {
	c.mu.Lock()
	suspended, target := c.suspended, c.current
	c.mu.Unlock()

	if suspended {
		if err := c.content.Resume(target); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrResumeFailed, target.ID, err)
		}
		metricTransitions.WithLabelValues("resume").Inc()
		c.mu.Lock()
		c.suspended = false
		c.mu.Unlock()
	}

	if err := c.window.PresentNonActivating(); err != nil {
		return fmt.Errorf("present window: %w", err)
	}
	if err := c.content.FocusPrimaryInput(); err != nil {
		// Pages without a text box are normal.
		slog.Debug("[DEBUG-window] focus primary input failed", "service", target.ID, "error", err)
	}

	c.mu.Lock()
	c.state = Visible
	c.suspended = false
	c.mu.Unlock()
	metricTransitions.WithLabelValues("show").Inc()
	metricVisible.Set(1)
	return nil
}

// Hide suspends the content, records the window size, dismisses the window
// and runs a best-effort cleanup pass. A suspend failure is returned but the
// window is still dismissed. When dismissal fails the window keeps its state
// and a page suspended by this call is resumed, so content is only ever
// suspended while Hidden.
func (c *Controller) Hide() error {
	c.mu.Lock()
	alreadySuspended, target := c.suspended, c.current
	c.mu.Unlock()

	var suspendErr error
	suspended := alreadySuspended
	if !alreadySuspended {
		if err := c.content.Suspend(); err != nil {
			suspendErr = fmt.Errorf("%w: %w", ErrSuspendFailed, err)
			slog.Warn("[DEBUG-window] suspend failed, hiding anyway", "error", err)
		} else {
			suspended = true
			metricTransitions.WithLabelValues("suspend").Inc()
		}
	}

	c.recordSize()

	if err := c.window.Dismiss(); err != nil {
		dismissErr := fmt.Errorf("dismiss window: %w", err)
		c.mu.Lock()
		hidden := c.state == Hidden
		if hidden {
			c.suspended = suspended
		}
		c.mu.Unlock()
		if !hidden && suspended && !alreadySuspended {
			if resumeErr := c.content.Resume(target); resumeErr != nil {
				dismissErr = errors.Join(dismissErr, fmt.Errorf("%w: %s: %w", ErrResumeFailed, target.ID, resumeErr))
			}
		}
		return errors.Join(suspendErr, dismissErr)
	}

	c.mu.Lock()
	c.state = Hidden
	c.suspended = suspended
	c.mu.Unlock()
	metricTransitions.WithLabelValues("hide").Inc()
	metricVisible.Set(0)

	if c.cleanup != nil {
		freed := c.cleanup()
		slog.Debug("[DEBUG-window] cleanup after hide", "freedMB", freed)
	}
	return suspendErr
}

func (c *Controller) recordSize() {
	sizer, ok := c.window.(Sizer)
	if !ok {
		return
	}
	w, h, err := sizer.Size()
	if err != nil || w <= 0 || h <= 0 {
		return
	}
	if _, err := c.store.Update(func(st *windowstate.State) {
		st.Width, st.Height = w, h
	}); err != nil {
		slog.Warn("[DEBUG-window] failed to persist window size", "error", err)
	}
}

// Toggle hides the window when the OS reports it visible and shows it
// otherwise. A toggle arriving while another is in progress is dropped.
func (c *Controller) Toggle() error {
	if !c.toggling.CompareAndSwap(false, true) {
		slog.Debug("[DEBUG-hotkey] toggle already in progress, skipping")
		return nil
	}
	defer c.toggling.Store(false)

	// The OS state wins over ours: the user may have closed the window.
	if c.window.IsOSVisible() {
		return c.Hide()
	}
	return c.Show()
}

// AdjustOpacity steps the window alpha by OpacityStep, clamped into
// [MinOpacity, MaxOpacity], applies and persists it. Visibility is unchanged.
func (c *Controller) AdjustOpacity(increase bool) (float64, error) {
	c.mu.Lock()
	current := c.opacity
	c.mu.Unlock()

	next := current - OpacityStep
	if increase {
		next = current + OpacityStep
	}
	next = windowstate.ClampOpacity(next)

	if err := c.window.SetAlpha(next); err != nil {
		return current, fmt.Errorf("set alpha %.2f: %w", next, err)
	}
	c.mu.Lock()
	c.opacity = next
	c.mu.Unlock()

	if _, err := c.store.Update(func(st *windowstate.State) { st.Opacity = next }); err != nil {
		slog.Warn("[DEBUG-window] failed to persist opacity", "opacity", next, "error", err)
	}
	return next, nil
}

// SwitchContent loads serviceID into the content view. It never shows the
// window. A successful load replaces any suspended page.
func (c *Controller) SwitchContent(serviceID string) error {
	target, err := c.catalog.Resolve(serviceID)
	if err != nil {
		return err
	}
	if err := c.content.Load(target); err != nil {
		return fmt.Errorf("load %s: %w", target.ID, err)
	}
	c.mu.Lock()
	c.current = target
	c.suspended = false
	c.mu.Unlock()

	if _, err := c.store.Update(func(st *windowstate.State) { st.LastService = target.ID }); err != nil {
		slog.Warn("[DEBUG-window] failed to persist last service", "service", target.ID, "error", err)
	}
	slog.Info("[DEBUG-window] switched service", "service", target.ID)
	return nil
}

// Reload loads the current service again.
func (c *Controller) Reload() error {
	return c.SwitchContent(c.Current().ID)
}

// SuspendIfHidden suspends the content when the window is hidden and the
// content is still live. Registered as a memory cleanup callback.
func (c *Controller) SuspendIfHidden() error {
	c.mu.Lock()
	skip := c.state == Visible || c.suspended
	c.mu.Unlock()
	if skip {
		return nil
	}
	if err := c.content.Suspend(); err != nil {
		return fmt.Errorf("%w: %w", ErrSuspendFailed, err)
	}
	c.mu.Lock()
	// Show may have run in between when called off the loop.
	if c.state == Hidden {
		c.suspended = true
	}
	c.mu.Unlock()
	metricTransitions.WithLabelValues("suspend").Inc()
	return nil
}

// Current returns the loaded service.
func (c *Controller) Current() services.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{State: c.state, Suspended: c.suspended, Service: c.current, Opacity: c.opacity}
}
