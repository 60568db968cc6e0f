package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"overai/internal/config"
)

func stubEnv(t *testing.T, env map[string]string) {
	t.Helper()
	orig := getenvFn
	t.Cleanup(func() { getenvFn = orig })
	getenvFn = func(k string) string { return env[k] }
}

func TestAPIClientOpenAICompatible(t *testing.T) {
	stubEnv(t, map[string]string{"GROQ_API_KEY": "sk-test"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "llama-3.1-8b-instant" || req["max_tokens"] != float64(1000) {
			t.Errorf("request = %v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"pong"}}]}`))
	}))
	defer srv.Close()

	client := NewAPIClient(config.APIService{
		ID: "groq", BaseURL: srv.URL + "/openai/v1/", Model: "llama-3.1-8b-instant",
		APIKeyEnv: "GROQ_API_KEY", RequiresKey: true,
	})
	reply, err := client.Chat(context.Background(), "", "ping")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "pong" {
		t.Fatalf("Chat() = %q", reply)
	}
}

func TestAPIClientAnthropic(t *testing.T) {
	stubEnv(t, map[string]string{"ANTHROPIC_API_KEY": "ak"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("headers = %v", r.Header)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("bearer header sent to anthropic")
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Hello, "},{"type":"text","text":"world"}]}`))
	}))
	defer srv.Close()

	client := NewAPIClient(config.APIService{
		ID: "anthropic", BaseURL: srv.URL + "/v1", ChatPath: "/messages", Model: "claude",
		APIKeyEnv: "ANTHROPIC_API_KEY", RequiresKey: true,
	})
	reply, err := client.Chat(context.Background(), "claude-override", "hi")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "Hello, world" {
		t.Fatalf("Chat() = %q", reply)
	}
}

func TestAPIClientMissingKey(t *testing.T) {
	stubEnv(t, nil)
	client := NewAPIClient(config.APIService{ID: "openai", BaseURL: "http://127.0.0.1:1", APIKeyEnv: "OPENAI_API_KEY", RequiresKey: true})
	_, err := client.Chat(context.Background(), "", "hi")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Chat() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestAPIClientKeylessService(t *testing.T) {
	stubEnv(t, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization sent without a key")
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"local"}}]}`))
	}))
	defer srv.Close()

	client := NewAPIClient(config.APIService{ID: "ollama", BaseURL: srv.URL + "/v1", Model: "llama3.2"})
	if reply, err := client.Chat(context.Background(), "", "hi"); err != nil || reply != "local" {
		t.Fatalf("Chat() = %q, %v", reply, err)
	}
}

func TestAPIClientErrors(t *testing.T) {
	stubEnv(t, nil)
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "http error", status: http.StatusUnauthorized, body: `{"error":"bad key"}`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			client := NewAPIClient(config.APIService{ID: "x", BaseURL: srv.URL})
			if _, err := client.Chat(context.Background(), "m", "hi"); err == nil {
				t.Fatal("Chat() expected error")
			}
		})
	}
}

func TestAPIClientEmptyMessage(t *testing.T) {
	client := NewAPIClient(config.APIService{ID: "x", BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Chat(context.Background(), "m", "   "); err == nil {
		t.Fatal("Chat() with empty message expected error")
	}
}
