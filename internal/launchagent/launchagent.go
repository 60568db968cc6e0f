// Package launchagent installs OverAI as a per-user launchd agent so it
// starts at login.
package launchagent

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"overai/internal/userutil"
)

// Label is the launchd label for the current user, com.<user>.overai.
func Label() string {
	return "com." + userutil.SanitizeUsername(userutil.CurrentUsername()) + ".overai"
}

// Agent describes the plist written to ~/Library/LaunchAgents.
type Agent struct {
	Label   string
	Program string
	Args    []string
	// LogDir receives launchd's stdout and stderr captures.
	LogDir string
}

// Runner executes launchctl. Replaced in tests.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Installer writes and loads agents under Home.
type Installer struct {
	Home string
	Run  Runner
}

// NewInstaller uses the current user's home directory and the real launchctl.
func NewInstaller() (*Installer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	return &Installer{Home: home, Run: execRunner}, nil
}

// Path returns the plist location for label.
func (i *Installer) Path(label string) string {
	return filepath.Join(i.Home, "Library", "LaunchAgents", label+".plist")
}

// Install writes the plist and loads it. A previously loaded agent with the
// same label is unloaded first so the new arguments take effect.
func (i *Installer) Install(a Agent) (string, error) {
	if a.Label == "" || a.Program == "" {
		return "", errors.New("launch agent needs a label and a program")
	}
	raw, err := Render(a)
	if err != nil {
		return "", err
	}
	path := i.Path(a.Label)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create LaunchAgents dir: %w", err)
	}
	if a.LogDir != "" {
		if err := os.MkdirAll(a.LogDir, 0o700); err != nil {
			return "", fmt.Errorf("create log dir: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		// Not loaded is fine here.
		_, _ = i.Run("launchctl", "unload", path)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if out, err := i.Run("launchctl", "load", path); err != nil {
		return path, fmt.Errorf("launchctl load: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return path, nil
}

// Uninstall unloads and removes the agent. removed is false when no plist
// was installed.
func (i *Installer) Uninstall(label string) (path string, removed bool, err error) {
	path = i.Path(label)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return path, false, nil
	}
	// The agent may already be unloaded; removing the file is what matters.
	_, _ = i.Run("launchctl", "unload", path)
	if err := os.Remove(path); err != nil {
		return path, false, fmt.Errorf("remove %s: %w", path, err)
	}
	return path, true, nil
}

// Render produces the plist. KeepAlive restarts the app only after a crash,
// so Quit from the menu stays quit.
func Render(a Agent) ([]byte, error) {
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, a); err != nil {
		return nil, fmt.Errorf("render plist: %w", err)
	}
	return buf.Bytes(), nil
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{
	"x":    xmlEscape,
	"join": filepath.Join,
}).Parse(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{x .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{x .Program}}</string>
{{- range .Args}}
        <string>{{x .}}</string>
{{- end}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>ProcessType</key>
    <string>Interactive</string>
{{- if .LogDir}}
    <key>StandardOutPath</key>
    <string>{{x (join .LogDir "launchd.out.log")}}</string>
    <key>StandardErrorPath</key>
    <string>{{x (join .LogDir "launchd.err.log")}}</string>
{{- end}}
</dict>
</plist>
`))

func xmlEscape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}
