package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"overai/internal/config"
)

const (
	apiTimeout       = 60 * time.Second
	apiMaxTokens     = 1000
	anthropicVersion = "2023-06-01"
	defaultChatPath  = "/chat/completions"
)

// ErrMissingAPIKey is returned when a service needs a key and its
// environment variable is empty.
var ErrMissingAPIKey = errors.New("api key not set")

// getenvFn is a test seam.
var getenvFn = os.Getenv

// APIClient sends single-turn chats to an OpenAI-compatible endpoint, or to
// the Anthropic messages API when the service's chat path is /messages.
type APIClient struct {
	service    config.APIService
	httpClient *http.Client
}

// NewAPIClient returns a client for service.
func NewAPIClient(service config.APIService) *APIClient {
	return &APIClient{service: service, httpClient: &http.Client{Timeout: apiTimeout}}
}

// Service returns the configured service.
func (c *APIClient) Service() config.APIService { return c.service }

func (c *APIClient) anthropic() bool {
	return strings.TrimRight(c.service.ChatPath, "/") == "/messages"
}

func (c *APIClient) endpoint() string {
	path := c.service.ChatPath
	if path == "" {
		path = defaultChatPath
	}
	return strings.TrimRight(c.service.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Chat sends message as a single user turn. An empty model uses the
// service default.
func (c *APIClient) Chat(ctx context.Context, model, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%s chat: empty message", c.service.ID)
	}
	if model = strings.TrimSpace(model); model == "" {
		model = c.service.Model
	}
	key := ""
	if c.service.APIKeyEnv != "" {
		key = strings.TrimSpace(getenvFn(c.service.APIKeyEnv))
	}
	if c.service.RequiresKey && key == "" {
		return "", fmt.Errorf("%w: %s needs $%s", ErrMissingAPIKey, c.service.ID, c.service.APIKeyEnv)
	}

	payload := map[string]any{
		"model":      model,
		"messages":   []Message{{Role: "user", Content: message}},
		"max_tokens": apiMaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", c.service.ID, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", c.service.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.anthropic() {
		req.Header.Set("anthropic-version", anthropicVersion)
		if key != "" {
			req.Header.Set("x-api-key", key)
		}
	} else if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", c.service.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s chat failed (%d): %s", c.service.ID, resp.StatusCode, readErrorBody(resp.Body))
	}

	if c.anthropic() {
		var result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return "", fmt.Errorf("decode %s response: %w", c.service.ID, err)
		}
		var sb strings.Builder
		for _, part := range result.Content {
			if part.Type == "text" || part.Type == "" {
				sb.WriteString(part.Text)
			}
		}
		return sb.String(), nil
	}

	var result struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode %s response: %w", c.service.ID, err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("%s chat: response has no choices", c.service.ID)
	}
	return result.Choices[0].Message.Content, nil
}
