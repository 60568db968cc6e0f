// Package chatbridge serves the local chat page and its websocket.
//
// # JSON protocol
//
// Client to server:
//
//	{"type":"models"}
//	{"type":"chat","id":"...","model":"llama3.2","messages":[{"role":"user","content":"hi"}]}
//	{"type":"api_chat","id":"...","service":"openai","model":"","message":"hi"}
//
// Server to client:
//
//	{"type":"models","models":["llama3.2"],"services":[{"id":"openai","name":"OpenAI","model":"gpt-4o-mini"}]}
//	{"type":"reply","id":"...","content":"..."}
//	{"type":"error","id":"...","message":"..."}
//
// A missing request id is filled in by the server and echoed back.
package chatbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"overai/internal/llm"
)

const (
	typeModels  = "models"
	typeChat    = "chat"
	typeAPIChat = "api_chat"
	typeReply   = "reply"
	typeError   = "error"

	// maxHistory bounds the turns forwarded to the local model.
	maxHistory = 50
)

var errInvalidRequest = errors.New("invalid request")

type clientMsg struct {
	Type     string        `json:"type"`
	ID       string        `json:"id,omitempty"`
	Model    string        `json:"model,omitempty"`
	Messages []llm.Message `json:"messages,omitempty"`
	Service  string        `json:"service,omitempty"`
	Message  string        `json:"message,omitempty"`
}

type modelsMsg struct {
	Type     string            `json:"type"`
	Models   []string          `json:"models"`
	Services []llm.ServiceInfo `json:"services"`
}

type replyMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

type errorMsg struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// decodeClientMsg parses and validates one text frame.
func decodeClientMsg(raw []byte) (clientMsg, error) {
	var msg clientMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return clientMsg{}, fmt.Errorf("%w: invalid JSON: %v", errInvalidRequest, err)
	}
	msg.Type = strings.TrimSpace(msg.Type)
	switch msg.Type {
	case typeModels:
	case typeChat:
		if strings.TrimSpace(msg.Model) == "" {
			return msg, fmt.Errorf("%w: chat needs a model", errInvalidRequest)
		}
		if len(msg.Messages) == 0 {
			return msg, fmt.Errorf("%w: chat needs at least one message", errInvalidRequest)
		}
		if len(msg.Messages) > maxHistory {
			msg.Messages = msg.Messages[len(msg.Messages)-maxHistory:]
		}
	case typeAPIChat:
		if strings.TrimSpace(msg.Service) == "" {
			return msg, fmt.Errorf("%w: api_chat needs a service", errInvalidRequest)
		}
		if strings.TrimSpace(msg.Message) == "" {
			return msg, fmt.Errorf("%w: api_chat needs a message", errInvalidRequest)
		}
	case "":
		return msg, fmt.Errorf("%w: missing type", errInvalidRequest)
	default:
		return msg, fmt.Errorf("%w: unknown type %q", errInvalidRequest, msg.Type)
	}
	return msg, nil
}
