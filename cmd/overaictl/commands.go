package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"overai/internal/ipc"
)

var sendFn = ipc.Send

type rootOptions struct {
	endpoint string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "overaictl",
		Short:         "Control a running OverAI overlay",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "control socket path or pipe name (default: per-user endpoint)")

	// Alphabetical.
	root.AddCommand(simpleCmd(opts, ipc.CmdActivate, "Bring the overlay to the front"))
	root.AddCommand(simpleCmd(opts, ipc.CmdHide, "Hide the overlay"))
	root.AddCommand(newHotkeyCmd(opts))
	root.AddCommand(newLogsCmd(opts))
	root.AddCommand(newOpacityCmd(opts))
	root.AddCommand(newPermissionsCmd(opts))
	root.AddCommand(simpleCmd(opts, ipc.CmdQuit, "Quit the app"))
	root.AddCommand(simpleCmd(opts, ipc.CmdReload, "Reload the current service"))
	root.AddCommand(simpleCmd(opts, ipc.CmdShow, "Show the overlay"))
	root.AddCommand(newStartupCmd())
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newSwitchCmd(opts))
	root.AddCommand(simpleCmd(opts, ipc.CmdToggle, "Show or hide the overlay"))
	root.AddCommand(newVersionCmd(opts))
	return root
}

func simpleCmd(opts *rootOptions, command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.OutOrStdout(), opts, ipc.Request{Command: command})
		},
	}
}

func newOpacityCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "opacity up|down",
		Short:     "Step the overlay opacity by 10%",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts, ipc.Request{Command: ipc.CmdOpacity, Args: args})
		},
	}
}

func newSwitchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "switch SERVICE",
		Short:   "Load another AI service (grok, chatgpt, claude, gemini, deepseek, perplexity, local_ai)",
		Example: "  overaictl switch claude",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts, ipc.Request{Command: ipc.CmdSwitch, Args: args})
		},
	}
}

func newHotkeyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "hotkey COMBO",
		Short:   "Change the global hotkey",
		Example: "  overaictl hotkey cmd+shift+space",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), opts, ipc.Request{Command: ipc.CmdHotkey, Args: args})
		},
	}
}

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var lines int
	c := &cobra.Command{
		Use:   "logs",
		Short: "Print recent warnings and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if lines < 0 {
				return fmt.Errorf("--lines must not be negative")
			}
			req := ipc.Request{Command: ipc.CmdLogs}
			if lines > 0 {
				req.Args = []string{strconv.Itoa(lines)}
			}
			return run(cmd.OutOrStdout(), opts, req)
		},
	}
	c.Flags().IntVarP(&lines, "lines", "n", 0, "number of lines (0 = all buffered)")
	return c
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the overlay state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := send(opts, ipc.Request{Command: ipc.CmdStatus})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp.Status)
			}
			printStatus(out, resp.Status)
			return nil
		},
	}
	c.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	return c
}

func send(opts *rootOptions, req ipc.Request) (ipc.Response, error) {
	resp, err := sendFn(opts.endpoint, req)
	if err != nil {
		if ipc.IsConnectionError(err) {
			return ipc.Response{}, fmt.Errorf("OverAI is not running (%w)", err)
		}
		return ipc.Response{}, err
	}
	if err := resp.Err(); err != nil {
		return resp, err
	}
	return resp, nil
}

func run(out io.Writer, opts *rootOptions, req ipc.Request) error {
	resp, err := send(opts, req)
	if err != nil {
		return err
	}
	if msg := strings.TrimRight(resp.Message, "\n"); msg != "" {
		fmt.Fprintln(out, msg)
	}
	return nil
}

func printStatus(out io.Writer, st *ipc.Status) {
	if st == nil {
		fmt.Fprintln(out, "no status reported")
		return
	}
	state := "hidden"
	if st.Visible {
		state = "visible"
	}
	if st.Suspended {
		state += " (suspended)"
	}
	fmt.Fprintf(out, "State    %s\n", state)
	fmt.Fprintf(out, "Service  %s\n", st.Service)
	fmt.Fprintf(out, "Opacity  %.0f%%\n", st.Opacity*100)
	if st.Hotkey != "" {
		fmt.Fprintf(out, "Hotkey   %s", st.Hotkey)
		if st.HotkeyInactive {
			fmt.Fprint(out, " (inactive)")
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Memory   %.1f MB", st.MemoryMB)
	if st.Pressure != "" {
		fmt.Fprintf(out, " (%s)", st.Pressure)
	}
	fmt.Fprintln(out)
	if st.ChatURL != "" {
		fmt.Fprintf(out, "Chat     %s\n", st.ChatURL)
	}
}
