//go:build windows

package singleinstance

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"

	"overai/internal/userutil"
)

const mutexPrefix = `Global\overai-`

// Lock owns a named mutex. The kernel abandons the mutex when the process
// exits, so a crash never leaves a stale lock.
type Lock struct {
	handle windows.Handle
}

// TryLock creates the named mutex and takes initial ownership.
func TryLock(name string) (*Lock, error) {
	if name == "" {
		return nil, errors.New("mutex name is required")
	}
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, fmt.Errorf("encode mutex name %q: %w", name, err)
	}
	h, err := windows.CreateMutex(nil, true, namePtr)
	if err != nil {
		if h != 0 {
			_ = windows.CloseHandle(h)
		}
		if errors.Is(err, windows.ERROR_ALREADY_EXISTS) {
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("create mutex %q: %w", name, err)
	}
	return &Lock{handle: h}, nil
}

// Release closes the mutex handle. Safe on a nil receiver and idempotent.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	if err != nil {
		return fmt.Errorf("close mutex: %w", err)
	}
	return nil
}

// DefaultLockName returns the per-user mutex name. configDir is unused on
// Windows.
func DefaultLockName(string) string {
	return userutil.ObjectName(mutexPrefix)
}
