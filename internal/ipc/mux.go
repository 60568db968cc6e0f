package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Handler answers one request.
type Handler interface {
	Execute(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args []string) Response

type route struct {
	fn      HandlerFunc
	minArgs int
	maxArgs int
	choices []string
}

// Mux routes commands to registered functions and checks arity before the
// function runs.
type Mux struct {
	mu     sync.RWMutex
	routes map[string]route
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{routes: make(map[string]route)}
}

// Handle registers fn for command with an argument count in [minArgs, maxArgs].
// maxArgs < 0 means unbounded.
func (m *Mux) Handle(command string, minArgs, maxArgs int, fn HandlerFunc) {
	m.handle(command, route{fn: fn, minArgs: minArgs, maxArgs: maxArgs})
}

// HandleChoice registers fn for a command taking exactly one argument from
// choices.
func (m *Mux) HandleChoice(command string, choices []string, fn HandlerFunc) {
	m.handle(command, route{fn: fn, minArgs: 1, maxArgs: 1, choices: choices})
}

func (m *Mux) handle(command string, r route) {
	command = strings.ToLower(strings.TrimSpace(command))
	if command == "" || r.fn == nil {
		panic("ipc: Handle needs a command and a function")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[command] = r
}

// Commands lists the registered commands in sorted order.
func (m *Mux) Commands() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for name := range m.routes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute implements Handler.
func (m *Mux) Execute(ctx context.Context, req Request) Response {
	m.mu.RLock()
	r, ok := m.routes[req.Command]
	m.mu.RUnlock()
	if !ok {
		return Fail(fmt.Errorf("%w: unknown command %q (known: %s)", ErrInvalidRequest, req.Command, strings.Join(m.Commands(), ", ")))
	}
	if len(req.Args) < r.minArgs || (r.maxArgs >= 0 && len(req.Args) > r.maxArgs) {
		return Fail(fmt.Errorf("%w: %s takes %s", ErrInvalidRequest, req.Command, arity(r.minArgs, r.maxArgs)))
	}
	if len(r.choices) > 0 {
		arg := strings.ToLower(strings.TrimSpace(req.Args[0]))
		if !slices.Contains(r.choices, arg) {
			return Fail(fmt.Errorf("%w: %s expects one of %s", ErrInvalidRequest, req.Command, strings.Join(r.choices, "|")))
		}
		req.Args = []string{arg}
	}
	slog.Debug("[ipc] executing command", "command", req.Command, "args", req.Args)
	return r.fn(ctx, req.Args)
}

func arity(minArgs, maxArgs int) string {
	switch {
	case maxArgs == 0:
		return "no arguments"
	case minArgs == maxArgs:
		return fmt.Sprintf("exactly %d argument(s)", minArgs)
	case maxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", minArgs, maxArgs)
	}
}
