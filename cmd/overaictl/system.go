package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"overai/internal/buildinfo"
	"overai/internal/ipc"
	"overai/internal/launchagent"
)

// bundledAppPath is where a drag-installed OverAI.app keeps its binary.
const bundledAppPath = "/Applications/OverAI.app/Contents/MacOS/OverAI"

var (
	goosFn         = func() string { return runtime.GOOS }
	executableFn   = os.Executable
	newInstallerFn = launchagent.NewInstaller
)

// errPermissionMissing makes `overaictl permissions` exit non-zero.
var errPermissionMissing = errors.New("accessibility access missing")

func newStartupCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "startup",
		Short: "Start OverAI at login (macOS launch agent)",
	}
	c.AddCommand(newStartupInstallCmd(), newStartupUninstallCmd())
	return c
}

func newStartupInstallCmd() *cobra.Command {
	var appPath string
	c := &cobra.Command{
		Use:   "install",
		Short: "Install the launch agent and load it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, err := launchAgentInstaller()
			if err != nil {
				return err
			}
			program, err := resolveAppPath(appPath)
			if err != nil {
				return err
			}
			path, err := inst.Install(launchagent.Agent{
				Label:   launchagent.Label(),
				Program: program,
				LogDir:  filepath.Join(inst.Home, "Library", "Logs", "OverAI"),
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "OverAI will start at login")
			fmt.Fprintf(out, "  Agent: %s\n", path)
			fmt.Fprintf(out, "  App:   %s\n", program)
			return nil
		},
	}
	c.Flags().StringVar(&appPath, "app", "", "OverAI binary to launch (default: next to overaictl, then "+bundledAppPath+")")
	return c
}

func newStartupUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Unload and remove the launch agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			inst, err := launchAgentInstaller()
			if err != nil {
				return err
			}
			path, removed, err := inst.Uninstall(launchagent.Label())
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintln(cmd.OutOrStdout(), "No startup item installed")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OverAI removed from startup items (%s)\n", path)
			return nil
		},
	}
}

func launchAgentInstaller() (*launchagent.Installer, error) {
	if goosFn() != "darwin" {
		return nil, fmt.Errorf("startup items are managed by launchd and only supported on macOS")
	}
	return newInstallerFn()
}

// resolveAppPath picks the binary the agent launches. An explicit path must
// exist; otherwise the app beside overaictl wins over the /Applications
// bundle.
func resolveAppPath(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", fmt.Errorf("app binary: %w", err)
		}
		return abs, nil
	}
	var candidates []string
	if exe, err := executableFn(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "OverAI"))
	}
	candidates = append(candidates, bundledAppPath)
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("OverAI binary not found in %v, pass --app", candidates)
}

func newPermissionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "permissions",
		Short: "Check that the global hotkey has Accessibility access",
		Long: "Asks the running app to re-register its hotkey listener. The listener only\n" +
			"installs once OverAI is allowed under System Settings > Privacy & Security >\n" +
			"Accessibility, so a failure means access is missing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			resp, err := send(opts, ipc.Request{Command: ipc.CmdStatus})
			if err != nil {
				return err
			}
			if resp.Status != nil && !resp.Status.HotkeyInactive {
				fmt.Fprintf(out, "Accessibility access granted, hotkey %s active\n", resp.Status.Hotkey)
				return nil
			}
			// Access may have been granted since launch.
			if _, err := send(opts, ipc.Request{Command: ipc.CmdRearm}); err == nil {
				fmt.Fprintln(out, "Accessibility access granted, hotkey re-registered")
				return nil
			}
			fmt.Fprintln(out, "Accessibility access missing or hotkey disabled in config.")
			fmt.Fprintln(out, "Allow OverAI under System Settings > Privacy & Security > Accessibility,")
			fmt.Fprintln(out, "then run `overaictl permissions` again.")
			return errPermissionMissing
		},
	}
}

func newVersionCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the overaictl and running app versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, buildinfo.Summary("overaictl"))
			resp, err := sendFn(opts.endpoint, ipc.Request{Command: ipc.CmdStatus})
			switch {
			case err != nil:
				fmt.Fprintln(out, "OverAI app not running")
			case resp.Status == nil || resp.Status.Version == "":
				fmt.Fprintln(out, "OverAI app running, version unknown")
			default:
				fmt.Fprintf(out, "OverAI app %s\n", resp.Status.Version)
			}
			return nil
		},
	}
}
