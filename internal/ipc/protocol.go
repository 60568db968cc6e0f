// Package ipc is the control channel of a running OverAI instance: a Unix
// socket on macOS and Linux, a named pipe on Windows. Each connection carries
// one newline-terminated JSON request and one response.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Commands understood by the running app.
const (
	CmdActivate = "activate"
	CmdShow     = "show"
	CmdHide     = "hide"
	CmdToggle   = "toggle"
	CmdOpacity  = "opacity"
	CmdSwitch   = "switch"
	CmdStatus   = "status"
	CmdHotkey   = "hotkey"
	CmdLogs     = "logs"
	CmdRearm    = "rearm"
	CmdReload   = "reload"
	CmdQuit     = "quit"
)

// ErrInvalidRequest wraps malformed or unknown requests.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one control command.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Status is the overlay snapshot returned by status and by commands that
// change it.
type Status struct {
	Visible   bool    `json:"visible"`
	Suspended bool    `json:"suspended"`
	Service   string  `json:"service"`
	Opacity   float64 `json:"opacity"`
	Hotkey    string  `json:"hotkey,omitempty"`
	MemoryMB  float64 `json:"memory_mb"`
	Pressure  string  `json:"pressure,omitempty"`
	ChatURL   string  `json:"chat_url,omitempty"`
	Version   string  `json:"version,omitempty"`
	// HotkeyInactive is set while the global listener is not installed,
	// typically because Accessibility access is missing.
	HotkeyInactive bool          `json:"hotkey_inactive"`
	Services       []ServiceInfo `json:"services,omitempty"`
}

// ServiceInfo is one entry of the service catalog.
type ServiceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Response answers a Request. Message carries the human-readable result or
// error text.
type Response struct {
	OK      bool    `json:"ok"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
}

// Okf builds a successful response.
func Okf(format string, args ...any) Response {
	return Response{OK: true, Message: fmt.Sprintf(format, args...)}
}

// Fail builds an error response from err.
func Fail(err error) Response {
	return Response{Message: err.Error()}
}

// Err returns the response as an error, nil when OK.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "command failed"
	}
	return errors.New(msg)
}

func encodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func decodeRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if req.Command == "" {
		return Request{}, fmt.Errorf("%w: missing command", ErrInvalidRequest)
	}
	return req, nil
}

func encodeResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}
