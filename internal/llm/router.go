package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"overai/internal/config"
)

var (
	// ErrUnknownAPIService is returned by APIChat for unconfigured service ids.
	ErrUnknownAPIService = errors.New("unknown api service")
	// ErrOllamaNotRunning means nothing answers at the Ollama address.
	ErrOllamaNotRunning = errors.New("ollama is not running, start it with `ollama serve`")
)

// ServiceInfo names a configured API service for the chat page.
type ServiceInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Router sends chat page requests to Ollama or to a configured API service.
type Router struct {
	ollama  *Ollama
	order   []string
	clients map[string]*APIClient
}

// NewRouter builds API clients for every configured service.
func NewRouter(ollama *Ollama, services []config.APIService) *Router {
	r := &Router{ollama: ollama, clients: make(map[string]*APIClient, len(services))}
	for _, svc := range services {
		if _, dup := r.clients[svc.ID]; dup {
			continue
		}
		r.order = append(r.order, svc.ID)
		r.clients[svc.ID] = NewAPIClient(svc)
	}
	return r
}

// Models lists local model names, sorted.
func (r *Router) Models(ctx context.Context) ([]string, error) {
	models, err := r.ollama.Models(ctx)
	if err != nil {
		if ctx.Err() == nil && !r.ollama.IsRunning(ctx) {
			return nil, fmt.Errorf("%w (%s)", ErrOllamaNotRunning, r.ollama.BaseURL())
		}
		return nil, err
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	slices.Sort(names)
	return names, nil
}

// Services lists configured API services in config order.
func (r *Router) Services() []ServiceInfo {
	out := make([]ServiceInfo, 0, len(r.order))
	for _, id := range r.order {
		svc := r.clients[id].Service()
		out = append(out, ServiceInfo{ID: svc.ID, Name: svc.Name, Model: svc.Model})
	}
	return out
}

// Chat sends a conversation to the local model.
func (r *Router) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	return r.ollama.Chat(ctx, model, messages)
}

// APIChat sends a single message to a configured API service.
func (r *Router) APIChat(ctx context.Context, serviceID, model, message string) (string, error) {
	client, ok := r.clients[serviceID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAPIService, serviceID)
	}
	return client.Chat(ctx, model, message)
}
