// Package services lists the chat targets the overlay can display.
package services

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	// DefaultID is loaded on first start and when a saved id is unknown.
	DefaultID = "grok"
	// LocalID is the chat page served by the local bridge.
	LocalID = "local_ai"
)

// ErrUnknownService is returned for ids that are not in the catalog.
var ErrUnknownService = errors.New("unknown service")

// Target is a page the content view can load.
type Target struct {
	ID   string
	Name string
	URL  string
	// Icon is an SF Symbols name used by the tray on macOS.
	Icon string
	// Local targets are served by this process.
	Local bool
}

var builtin = []Target{
	{ID: "grok", Name: "Grok", URL: "https://grok.com", Icon: "bolt.fill"},
	{ID: "chatgpt", Name: "ChatGPT", URL: "https://chat.openai.com", Icon: "bubble.left.fill"},
	{ID: "claude", Name: "Claude", URL: "https://claude.ai/chat", Icon: "quote.bubble.fill"},
	{ID: "gemini", Name: "Gemini", URL: "https://gemini.google.com", Icon: "sparkles"},
	{ID: "deepseek", Name: "DeepSeek", URL: "https://chat.deepseek.com", Icon: "magnifyingglass"},
	{ID: "perplexity", Name: "Perplexity", URL: "https://www.perplexity.ai", Icon: "magnifyingglass.circle"},
}

// Catalog resolves service ids. The local target has no URL until the chat
// bridge is listening.
type Catalog struct {
	mu       sync.RWMutex
	localURL string
}

// NewCatalog returns a catalog with the built-in web targets.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// SetLocalURL records where the local chat page is served. An empty url
// disables the local target.
func (c *Catalog) SetLocalURL(url string) {
	c.mu.Lock()
	c.localURL = strings.TrimSpace(url)
	c.mu.Unlock()
}

func (c *Catalog) local() (Target, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.localURL == "" {
		return Target{}, false
	}
	return Target{ID: LocalID, Name: "Local AI", URL: c.localURL, Icon: "desktopcomputer", Local: true}, true
}

// All returns the web targets in menu order followed by the local target
// when available.
func (c *Catalog) All() []Target {
	out := make([]Target, len(builtin), len(builtin)+1)
	copy(out, builtin)
	if t, ok := c.local(); ok {
		out = append(out, t)
	}
	return out
}

// Lookup finds a target by id. Ids are case-insensitive.
func (c *Catalog) Lookup(id string) (Target, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == LocalID {
		return c.local()
	}
	for _, t := range builtin {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}

// Resolve is Lookup with an error naming the known ids.
func (c *Catalog) Resolve(id string) (Target, error) {
	if t, ok := c.Lookup(id); ok {
		return t, nil
	}
	ids := make([]string, 0, len(builtin)+1)
	for _, t := range c.All() {
		ids = append(ids, t.ID)
	}
	return Target{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownService, id, strings.Join(ids, ", "))
}

// Default returns the target for DefaultID.
func (c *Catalog) Default() Target {
	t, _ := c.Lookup(DefaultID)
	return t
}

// ResolveOrDefault falls back to Default for unknown ids.
func (c *Catalog) ResolveOrDefault(id string) Target {
	if t, ok := c.Lookup(id); ok {
		return t
	}
	return c.Default()
}
