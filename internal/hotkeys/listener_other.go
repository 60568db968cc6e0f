//go:build !darwin

package hotkeys

import (
	"fmt"
	"runtime"
)

const platformSupportsHotkeys = false

type unsupportedListener struct{}

func newPlatformListener() listener {
	return unsupportedListener{}
}

// Register always fails: key codes are macOS virtual key codes and have no
// mapping on other platforms.
func (unsupportedListener) Register(c Combination, _ func(Modifier, KeyCode)) error {
	return fmt.Errorf("%w: %s hotkeys are not supported on %s", ErrPermissionUnavailable, c, runtime.GOOS)
}

func (unsupportedListener) Unregister() error { return nil }
