package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"overai/internal/services"
	"overai/internal/windowstate"
)

var (
	runtimeWindowShowFn           = runtime.WindowShow
	runtimeWindowHideFn           = runtime.WindowHide
	runtimeWindowSetAlwaysOnTopFn = runtime.WindowSetAlwaysOnTop
	runtimeWindowGetSizeFn        = runtime.WindowGetSize
	runtimeWindowSetSizeFn        = runtime.WindowSetSize
	runtimeWindowExecJSFn         = runtime.WindowExecJS
	runtimeQuitFn                 = runtime.Quit

	presentWindowFn   = presentWindow
	accessoryPolicyFn = useAccessoryPolicy
)

// errRuntimeUnavailable is returned before startup and after shutdown.
var errRuntimeUnavailable = errors.New("window runtime is not available")

// wailsWindow adapts the Wails main window to visibility.Window. Wails v2
// cannot query window visibility, so the adapter tracks what it last did;
// the close button is routed through beforeClose to keep the flag honest.
type wailsWindow struct {
	ctx         func() context.Context
	alwaysOnTop func() bool

	mu      sync.Mutex
	visible bool
	alpha   float64
}

func newWailsWindow(ctx func() context.Context, alwaysOnTop func() bool) *wailsWindow {
	return &wailsWindow{ctx: ctx, alwaysOnTop: alwaysOnTop, alpha: windowstate.DefaultOpacity}
}

// PresentNonActivating shows the window at the configured level without
// taking focus from the frontmost app.
func (w *wailsWindow) PresentNonActivating() error {
	ctx := w.ctx()
	if ctx == nil {
		return errRuntimeUnavailable
	}
	presentWindowFn(ctx, w.alwaysOnTop())
	w.mu.Lock()
	w.visible = true
	alpha := w.alpha
	w.mu.Unlock()
	// Navigation resets the page style; re-apply on every present.
	runtimeWindowExecJSFn(ctx, opacityScript(alpha))
	return nil
}

func (w *wailsWindow) Dismiss() error {
	ctx := w.ctx()
	if ctx == nil {
		return errRuntimeUnavailable
	}
	runtimeWindowHideFn(ctx)
	w.markHidden()
	return nil
}

// SetAlpha applies alpha to the page. The window is created translucent so
// page opacity is window opacity.
func (w *wailsWindow) SetAlpha(alpha float64) error {
	ctx := w.ctx()
	if ctx == nil {
		return errRuntimeUnavailable
	}
	alpha = windowstate.ClampOpacity(alpha)
	w.mu.Lock()
	w.alpha = alpha
	w.mu.Unlock()
	runtimeWindowExecJSFn(ctx, opacityScript(alpha))
	return nil
}

func (w *wailsWindow) IsOSVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}

// Size implements visibility.Sizer.
func (w *wailsWindow) Size() (int, int, error) {
	ctx := w.ctx()
	if ctx == nil {
		return 0, 0, errRuntimeUnavailable
	}
	width, height := runtimeWindowGetSizeFn(ctx)
	return width, height, nil
}

func (w *wailsWindow) markHidden() {
	w.mu.Lock()
	w.visible = false
	w.mu.Unlock()
}

// reapplyAlpha restores the page opacity after the DOM was replaced.
func (w *wailsWindow) reapplyAlpha() {
	ctx := w.ctx()
	if ctx == nil {
		return
	}
	w.mu.Lock()
	alpha := w.alpha
	w.mu.Unlock()
	runtimeWindowExecJSFn(ctx, opacityScript(alpha))
}

func opacityScript(alpha float64) string {
	return fmt.Sprintf("document.documentElement.style.opacity=%q;", fmt.Sprintf("%.2f", alpha))
}

// restoreSize applies the saved frame size. Called once on startup.
func (a *App) restoreSize(st windowstate.State) {
	ctx := a.runtimeContext()
	if ctx == nil || st.Width <= 0 || st.Height <= 0 {
		return
	}
	runtimeWindowSetSizeFn(ctx, st.Width, st.Height)
}

// execJS evaluates script in the web view.
func (a *App) execJS(script string) error {
	ctx := a.runtimeContext()
	if ctx == nil {
		return errRuntimeUnavailable
	}
	runtimeWindowExecJSFn(ctx, script)
	return nil
}

// wailsContent adapts the Wails web view to visibility.Content by
// evaluating navigation scripts in it.
type wailsContent struct {
	exec func(script string) error
}

func newWailsContent(exec func(string) error) *wailsContent {
	return &wailsContent{exec: exec}
}

func (c *wailsContent) Load(target services.Target) error {
	if target.URL == "" {
		return fmt.Errorf("service %s has no URL", target.ID)
	}
	return c.exec(navigateScript(target.URL))
}

// Suspend stops loading and swaps the page for a blank document so the
// service's scripts and media are torn down.
func (c *wailsContent) Suspend() error {
	return c.exec(suspendScript)
}

// Resume reloads the target; a blank page has nothing to resume.
func (c *wailsContent) Resume(target services.Target) error {
	slog.Debug("[DEBUG-window] resuming content", "service", target.ID)
	return c.Load(target)
}

func (c *wailsContent) FocusPrimaryInput() error {
	return c.exec(focusScript)
}

const suspendScript = `window.stop();window.location.replace("about:blank");`

// focusScript focuses the first visible text entry of the loaded service.
const focusScript = `(function(){
var sel=['textarea','[contenteditable="true"]','input[type="text"]','input:not([type])'];
for(var i=0;i<sel.length;i++){
var el=document.querySelector(sel[i]);
if(el&&el.offsetParent!==null){el.focus();return;}
}
})();`

func navigateScript(url string) string {
	quoted, _ := json.Marshal(url)
	return "window.location.assign(" + string(quoted) + ");"
}
