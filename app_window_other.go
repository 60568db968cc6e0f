//go:build !darwin

package main

import "context"

// presentWindow shows the window through Wails. Outside macOS showing a
// window does not activate the whole app.
func presentWindow(ctx context.Context, onTop bool) {
	runtimeWindowShowFn(ctx)
	if onTop {
		runtimeWindowSetAlwaysOnTopFn(ctx, true)
	}
}

func useAccessoryPolicy() {}
