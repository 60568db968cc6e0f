// Package singleinstance keeps a second OverAI process from starting. The
// loser hands off to the winner over the control socket.
package singleinstance

import "errors"

// ErrAlreadyRunning is returned by TryLock when another instance holds the lock.
var ErrAlreadyRunning = errors.New("another instance is already running")
