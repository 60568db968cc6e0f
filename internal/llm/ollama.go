// Package llm talks to a local Ollama server and to OpenAI-compatible chat
// APIs for the local chat page.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultOllamaURL = "http://127.0.0.1:11434"

	ollamaTagsTimeout  = 5 * time.Second
	ollamaPingTimeout  = 3 * time.Second
	defaultChatTimeout = 120 * time.Second

	// maxErrorBody bounds how much of a failed response is quoted in errors.
	maxErrorBody = 512
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Model is an installed Ollama model.
type Model struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Ollama is a client for the Ollama HTTP API.
type Ollama struct {
	baseURL     string
	httpClient  *http.Client
	chatTimeout time.Duration
	tags        singleflight.Group
}

// NewOllama returns a client for baseURL. An empty baseURL uses the local
// default and a non-positive chatTimeout uses 120s.
func NewOllama(baseURL string, chatTimeout time.Duration) *Ollama {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if chatTimeout <= 0 {
		chatTimeout = defaultChatTimeout
	}
	return &Ollama{
		baseURL:     baseURL,
		httpClient:  &http.Client{},
		chatTimeout: chatTimeout,
	}
}

// BaseURL returns the server address.
func (o *Ollama) BaseURL() string { return o.baseURL }

// IsRunning pings /api/tags with a short timeout. Any HTTP answer counts:
// a failing server is running but broken.
func (o *Ollama) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaPingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		slog.Debug("[DEBUG-llm] ollama not reachable", "baseURL", o.baseURL, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}

// Models lists installed models. Concurrent callers share one request; a
// caller that gives up does not cancel it for the others.
func (o *Ollama) Models(ctx context.Context) ([]Model, error) {
	ch := o.tags.DoChan("tags", func() (any, error) {
		return o.fetchModels(context.WithoutCancel(ctx))
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ollama list models: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	models := res.Val.([]Model)
	if res.Shared {
		// Callers may sort or filter the slice.
		out := make([]Model, len(models))
		copy(out, models)
		return out, nil
	}
	return models, nil
}

func (o *Ollama) fetchModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, ollamaTagsTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama list models failed (%d): %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var result struct {
		Models []Model `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode ollama models: %w", err)
	}
	models := make([]Model, 0, len(result.Models))
	for _, m := range result.Models {
		m.Name = strings.TrimSpace(m.Name)
		if m.Name == "" {
			continue
		}
		models = append(models, m)
	}
	slog.Debug("[DEBUG-llm] ollama models listed", "count", len(models))
	return models, nil
}

// Chat sends a non-streaming chat request and returns the assistant reply.
func (o *Ollama) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("ollama chat: model is required")
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("ollama chat: no messages")
	}
	body, err := json.Marshal(struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
		Stream   bool      `json:"stream"`
	}{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.chatTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama chat failed (%d): %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var result struct {
		Message Message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	slog.Debug("[DEBUG-llm] ollama reply", "model", model, "chars", len(result.Message.Content))
	return result.Message.Content, nil
}

func readErrorBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
