//go:build darwin

package hotkeys

import (
	"fmt"
	"sync"

	"golang.design/x/hotkey"
)

const platformSupportsHotkeys = true

// carbonListener registers the combination with the system hotkey service.
// Registered hotkeys are consumed by the OS and never reach the frontmost app.
type carbonListener struct {
	mu   sync.Mutex
	hk   *hotkey.Hotkey
	done chan struct{}
}

func newPlatformListener() listener {
	return &carbonListener{}
}

var darwinModifiers = []struct {
	mod    Modifier
	native hotkey.Modifier
}{
	{ModControl, hotkey.ModCtrl},
	{ModOption, hotkey.ModOption},
	{ModShift, hotkey.ModShift},
	{ModCommand, hotkey.ModCmd},
}

func (l *carbonListener) Register(c Combination, onKeydown func(Modifier, KeyCode)) error {
	var mods []hotkey.Modifier
	for _, dm := range darwinModifiers {
		if c.Modifiers&dm.mod != 0 {
			mods = append(mods, dm.native)
		}
	}

	hk := hotkey.New(mods, hotkey.Key(c.KeyCode))
	if err := hk.Register(); err != nil {
		return fmt.Errorf("%w: register %s: %v", ErrPermissionUnavailable, c, err)
	}

	done := make(chan struct{})
	keydown := hk.Keydown()
	go func() {
		for {
			select {
			case <-done:
				return
			case _, ok := <-keydown:
				if !ok {
					return
				}
				// The system only reports the exact registered chord.
				onKeydown(c.Modifiers, c.KeyCode)
			}
		}
	}()

	l.mu.Lock()
	l.hk = hk
	l.done = done
	l.mu.Unlock()
	return nil
}

func (l *carbonListener) Unregister() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hk == nil {
		return nil
	}
	close(l.done)
	err := l.hk.Unregister()
	l.hk = nil
	l.done = nil
	return err
}
