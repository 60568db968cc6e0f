package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"overai/internal/chatbridge"
	"overai/internal/config"
	"overai/internal/crashguard"
	"overai/internal/eventloop"
	"overai/internal/hotkeys"
	"overai/internal/ipc"
	"overai/internal/lifecycle"
	"overai/internal/llm"
	"overai/internal/logging"
	"overai/internal/mempressure"
	"overai/internal/services"
	"overai/internal/visibility"
	"overai/internal/windowstate"
)

// App is the Wails composition root. Everything that touches the overlay
// state runs on loop.
type App struct {
	// Runtime context lifecycle.
	ctx   context.Context
	ctxMu sync.RWMutex

	// Configuration. Lock ordering: cfgMu is never held while posting to the
	// loop or calling into another component.
	cfgMu      sync.RWMutex
	cfg        config.Config
	configPath string
	configDir  string

	logger  *logging.Logger
	crashes *crashguard.History

	loop        *eventloop.Loop
	catalog     *services.Catalog
	windowStore *windowstate.Store
	monitor     *mempressure.Monitor
	lifecycle   *lifecycle.Lifecycle
	hotkeys     *hotkeys.Manager
	window      *wailsWindow
	content     *wailsContent
	controller  *visibility.Controller
	dispatcher  *llm.Dispatcher
	router      *llm.Router
	bridge      *chatbridge.Server
	mux         *ipc.Mux
	ipcServer   *ipc.Server
	trayHelper  *trayHelper
	watcher     *config.Watcher

	unregisterCleanup func()
	hotkeyArmed       atomic.Bool
	shuttingDown      atomic.Bool // set by quit and shutdown; rejects control commands
	stopped           atomic.Bool
	bgCancel          context.CancelFunc
	stopSignals       context.CancelFunc
}

// appOptions carries what main resolved before Wails starts.
type appOptions struct {
	ConfigPath string
	ConfigDir  string
	Config     config.Config
	Logger     *logging.Logger
	Crashes    *crashguard.History
	// Sampler overrides the process RSS sampler. Tests only.
	Sampler mempressure.Sampler
}

// NewApp builds every component that does not need the Wails runtime.
// Nothing is started until startup.
func NewApp(opts appOptions) (*App, error) {
	cfg := opts.Config
	a := &App{
		configPath: opts.ConfigPath,
		configDir:  opts.ConfigDir,
		logger:     opts.Logger,
		crashes:    opts.Crashes,
		loop:       eventloop.New(0),
		catalog:    services.NewCatalog(),
	}
	a.setConfigSnapshot(cfg)
	a.windowStore = windowstate.NewStore(opts.ConfigDir)
	a.seedDefaultService(cfg.DefaultService)

	sampler := opts.Sampler
	if sampler == nil {
		sampler = mempressure.NewProcessSampler()
	}
	monitor, err := mempressure.NewMonitor(thresholdsFromConfig(cfg), sampler)
	if err != nil {
		// Config validation already repaired the thresholds; this only fires
		// for a hand-built Config.
		slog.Warn("[WARN-CONFIG] invalid memory thresholds, using defaults", "error", err)
		monitor, err = mempressure.NewMonitor(mempressure.DefaultThresholds(), sampler)
		if err != nil {
			return nil, fmt.Errorf("memory monitor: %w", err)
		}
	}
	a.monitor = monitor
	a.lifecycle = lifecycle.New(a.loop, monitor, cfg.Memory.CheckInterval)

	store := hotkeys.NewStore(opts.ConfigDir)
	matcher := hotkeys.NewMatcher(store.Load())
	matcher.SetDebounce(cfg.Hotkey.Debounce)
	a.hotkeys = hotkeys.NewManager(matcher, store, a.loop.Post)

	a.window = newWailsWindow(a.runtimeContext, a.alwaysOnTop)
	a.content = newWailsContent(a.execJS)
	controller, err := visibility.New(visibility.Options{
		Window:  a.window,
		Content: a.content,
		Store:   a.windowStore,
		Catalog: a.catalog,
		Cleanup: monitor.RunCleanup,
	})
	if err != nil {
		return nil, err
	}
	a.controller = controller
	a.unregisterCleanup = mempressure.RegisterOwned(monitor, "suspend-hidden-content", controller,
		(*visibility.Controller).SuspendIfHidden)

	a.lifecycle.OnToggleRequested(a.toggle)
	a.lifecycle.OnMemoryPressure(a.onMemoryPressure)

	a.dispatcher = llm.NewDispatcher(a.loop.Post)
	a.router = llm.NewRouter(llm.NewOllama(cfg.LocalLLM.BaseURL, cfg.LocalLLM.Timeout), cfg.APIServices)
	bridge, err := chatbridge.NewServer(chatbridge.Options{
		Addr:              bridgeAddr(cfg.ChatBridge.Port),
		MessagesPerSecond: cfg.ChatBridge.MessagesPerSecond,
		Metrics:           cfg.Metrics.Enabled,
		Backend:           a.router,
		Runner:            a.dispatcher,
	})
	if err != nil {
		return nil, fmt.Errorf("chat bridge: %w", err)
	}
	a.bridge = bridge

	a.mux = a.newControlMux()
	a.ipcServer = newIPCServerFn(ipc.DefaultEndpoint(opts.ConfigDir), a.mux)
	return a, nil
}

// seedDefaultService records the configured default as the last service on
// first run so the controller opens it.
func (a *App) seedDefaultService(id string) {
	if id == "" {
		return
	}
	if _, statErr := statFn(a.windowStore.Path()); statErr == nil {
		return
	}
	if _, ok := a.catalog.Lookup(id); !ok {
		slog.Warn("[WARN-CONFIG] unknown default_service, keeping built-in default", "service", id)
		return
	}
	st := a.windowStore.Load()
	st.LastService = id
	if err := a.windowStore.Save(st); err != nil {
		slog.Warn("[WARN-CONFIG] failed to seed window state", "error", err)
	}
}

// onLoop runs fn on the event loop and waits for it.
func (a *App) onLoop(ctx context.Context, fn func() error) error {
	if a.shuttingDown.Load() {
		return errShuttingDown
	}
	return a.loop.Call(ctx, fn)
}

var errShuttingDown = errors.New("overlay is shutting down")

func thresholdsFromConfig(cfg config.Config) mempressure.Thresholds {
	return mempressure.Thresholds{
		WarningMB:  cfg.Memory.WarningMB,
		CriticalMB: cfg.Memory.CriticalMB,
		GrowthMB:   cfg.Memory.GrowthMB,
	}
}

func bridgeAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func (a *App) setRuntimeContext(ctx context.Context) {
	a.ctxMu.Lock()
	a.ctx = ctx
	a.ctxMu.Unlock()
}

func (a *App) runtimeContext() context.Context {
	a.ctxMu.RLock()
	ctx := a.ctx
	a.ctxMu.RUnlock()
	return ctx
}

// getConfigSnapshot returns a copy of the config protected by cfgMu.
func (a *App) getConfigSnapshot() config.Config {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	cfg := a.cfg
	cfg.APIServices = slices.Clone(a.cfg.APIServices)
	return cfg
}

// setConfigSnapshot stores a copy of cfg protected by cfgMu.
func (a *App) setConfigSnapshot(cfg config.Config) {
	cfg.APIServices = slices.Clone(cfg.APIServices)
	a.cfgMu.Lock()
	a.cfg = cfg
	a.cfgMu.Unlock()
}

func (a *App) alwaysOnTop() bool {
	a.cfgMu.RLock()
	defer a.cfgMu.RUnlock()
	return a.cfg.Window.AlwaysOnTop
}
