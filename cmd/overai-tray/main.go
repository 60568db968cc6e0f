// Command overai-tray shows the OverAI menu-bar item. It runs as its own
// process so that it owns NSApplication's native loop, and drives the overlay
// through the control socket.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
