// Package buildinfo holds version information injected at build time via
// -ldflags "-X overai/internal/buildinfo.Version=...".
package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// Summary is the one-line version banner shared by every binary.
func Summary(binary string) string {
	return fmt.Sprintf("%s %s (%s, built %s, %s/%s)", binary, Version, CommitHash, BuildDate, runtime.GOOS, runtime.GOARCH)
}
