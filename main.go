package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"overai/internal/config"
	"overai/internal/crashguard"
	"overai/internal/ipc"
	"overai/internal/logging"
	"overai/internal/singleinstance"
	"overai/internal/windowstate"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	if err := run(); err != nil {
		slog.Error("[DEBUG-PANIC] overai exited with error", "error", err)
		os.Exit(1)
	}
}

func run() (err error) {
	configPath := config.DefaultPath()
	configDir := filepath.Dir(configPath)
	for _, message := range config.ConsumeDefaultPathWarnings() {
		slog.Warn("[WARN-CONFIG] " + message)
	}

	// Single-instance check before any Wails/WebView initialization.
	lock, lockErr := singleinstance.TryLock(singleinstance.DefaultLockName(configDir))
	if errors.Is(lockErr, singleinstance.ErrAlreadyRunning) {
		slog.Info("[DEBUG-SINGLE] another instance is already running, signaling activation")
		if _, sendErr := ipc.Send(ipc.DefaultEndpoint(configDir), ipc.Request{Command: ipc.CmdActivate}); sendErr != nil {
			slog.Warn("[DEBUG-SINGLE] failed to signal existing instance", "error", sendErr)
		}
		return nil
	}
	if lockErr != nil {
		slog.Warn("[DEBUG-SINGLE] lock failed, proceeding without single-instance guard", "error", lockErr)
	}
	if lock != nil {
		defer func() {
			if releaseErr := lock.Release(); releaseErr != nil {
				slog.Warn("[DEBUG-SINGLE] lock release failed", "error", releaseErr)
			}
		}()
	}

	cfg, cfgErr := config.EnsureFile(configPath)
	if cfgErr != nil {
		// Non-fatal: Load already fell back to defaults.
		slog.Warn("[WARN-CONFIG] failed to load config, running with defaults", "path", configPath, "error", cfgErr)
	}

	logDir := logging.DefaultDir(configDir)
	logger, logErr := logging.Setup(logging.Options{Dir: logDir, Level: cfg.LogLevel})
	if logErr != nil {
		slog.Warn("[logging] file logging unavailable, using stderr", "error", logErr)
	} else {
		defer logger.Close()
	}

	crashes, crashErr := crashguard.Open(filepath.Join(logDir, crashguard.FileName),
		crashguard.DefaultThreshold, crashguard.DefaultWindow)
	if crashErr != nil {
		slog.Warn("[DEBUG-PANIC] crash history unavailable", "error", crashErr)
	} else {
		defer crashes.Close()
		if err := crashes.Check(context.Background()); err != nil {
			return err
		}
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			recordCrash(crashes, "panic", fmt.Sprint(recovered))
			panic(recovered)
		}
	}()

	app, err := NewApp(appOptions{
		ConfigPath: configPath,
		ConfigDir:  configDir,
		Config:     cfg,
		Logger:     logger,
		Crashes:    crashes,
	})
	if err != nil {
		recordCrash(crashes, "startup", err.Error())
		return err
	}

	err = wails.Run(&options.App{
		Title:            "OverAI",
		Width:            windowstate.DefaultWidth,
		Height:           windowstate.DefaultHeight,
		MinWidth:         360,
		MinHeight:        320,
		Frameless:        true,
		StartHidden:      true,
		AlwaysOnTop:      cfg.Window.AlwaysOnTop,
		BackgroundColour: &options.RGBA{R: 0, G: 0, B: 0, A: 0},
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:     app.startup,
		OnDomReady:    app.domReady,
		OnBeforeClose: app.beforeClose,
		OnShutdown:    app.shutdown,
		Mac: &mac.Options{
			TitleBar:             mac.TitleBarHiddenInset(),
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
			About: &mac.AboutInfo{
				Title:   "OverAI",
				Message: "AI chat overlay for the menu bar",
			},
		},
		Windows: &windows.Options{
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
		},
	})
	if err != nil {
		recordCrash(crashes, "wails", err.Error())
		return fmt.Errorf("wails run: %w", err)
	}
	if crashes != nil {
		if resetErr := crashes.Reset(context.Background()); resetErr != nil {
			slog.Warn("[DEBUG-PANIC] failed to reset crash history", "error", resetErr)
		}
	}
	return nil
}

func recordCrash(crashes *crashguard.History, kind, message string) {
	if crashes == nil {
		return
	}
	if err := crashes.Record(context.Background(), kind, message); err != nil {
		slog.Warn("[DEBUG-PANIC] failed to record crash", "kind", kind, "error", err)
	}
}
