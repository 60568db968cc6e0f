//go:build !darwin

package main

import (
	"context"
	"testing"
)

func TestPresentWindowFallsBackToRuntime(t *testing.T) {
	rec := stubRuntime(t)

	presentWindow(context.Background(), true)
	presentWindow(context.Background(), false)

	if rec.callCount("runtime-show") != 2 {
		t.Fatalf("runtime shows = %d, want 2", rec.callCount("runtime-show"))
	}
	if len(rec.alwaysOnTop) != 1 || !rec.alwaysOnTop[0] {
		t.Fatalf("always-on-top calls = %v, want [true]", rec.alwaysOnTop)
	}
	useAccessoryPolicy()
}
