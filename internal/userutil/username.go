// Package userutil derives per-user names for kernel objects shared between
// the app and its helpers: the control pipe and the instance mutex.
package userutil

import (
	"os"
	"os/user"
	"strings"
)

const unknownUser = "unknown"

// currentUserFn is replaced in tests.
var currentUserFn = user.Current

// ObjectName returns prefix followed by the sanitized login name, so two
// users on one machine never share a pipe or mutex.
func ObjectName(prefix string) string {
	return prefix + SanitizeUsername(CurrentUsername())
}

// CurrentUsername prefers USERNAME, then USER, then the account database.
// Returns "" when none resolves.
func CurrentUsername() string {
	for _, key := range []string{"USERNAME", "USER"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if current, err := currentUserFn(); err == nil {
		return strings.TrimSpace(current.Username)
	}
	return ""
}

// SanitizeUsername keeps [A-Za-z0-9._-] and collapses every other run of
// characters into a single underscore. Blank input maps to "unknown".
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return unknownUser
	}
	var b strings.Builder
	b.Grow(len(value))
	inRun := false
	for _, r := range value {
		if allowedRune(r) {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	return b.String()
}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
