package provider

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the model backend cannot be reached
// or refuses the request. Callers treat it as transient and fall back.
var ErrUnavailable = errors.New("model backend unavailable")

// Provider defines the interface for LLM providers.
type Provider interface {
	ID() string
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	HealthCheck(ctx context.Context) error
}

// ChatRequest represents a request to an LLM provider.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse represents a response from an LLM provider.
type ChatResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Config holds configuration for a provider instance.
type Config struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"` // "ollama" or "openai"
	Name     string        `json:"name"`
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout,omitempty"`
}

// Validator checks a model response; a non-nil error rejects it.
type Validator func(content string) error

// GenerateValidated calls Chat up to attempts times, passing each
// response through validate. The first accepted response wins; the last
// error comes back when every attempt fails.
func GenerateValidated(ctx context.Context, p Provider, req *ChatRequest, attempts int, validate Validator) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if validate != nil {
			if err := validate(resp.Content); err != nil {
				lastErr = err
				continue
			}
		}
		return resp.Content, nil
	}
	return "", lastErr
}
