package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestOllamaChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("got path %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("streaming requested")
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Error("strict system message not first")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           req.Model,
			Message:         Message{Role: "assistant", Content: `{"action": "idle"}`},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL, Name: "qwen"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "qwen",
		Messages: []Message{{Role: "user", Content: "decide"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != `{"action": "idle"}` {
		t.Errorf("got content %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("got total tokens %d, want 17", resp.Usage.TotalTokens)
	}
}

func TestOllamaChatServerDownIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{Model: "m"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestOllamaChat5xxIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL}, zap.NewNop())
	_, err := p.Chat(context.Background(), &ChatRequest{Model: "m"})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("got auth %q", got)
		}
		fmt.Fprint(w, `{"id":"c1","model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL, APIKey: "sk-test"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" || resp.FinishReason != "stop" {
		t.Errorf("got %+v", resp)
	}
}

func TestGenerateValidatedRetries(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := "garbage"
		if calls >= 3 {
			content = `{"action":"move"}`
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: content},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL}, zap.NewNop())
	got, err := GenerateValidated(context.Background(), p, &ChatRequest{Model: "m"}, 5, func(content string) error {
		if !strings.HasPrefix(content, "{") {
			return errors.New("not json")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != `{"action":"move"}` {
		t.Errorf("got %q", got)
	}
	if calls != 3 {
		t.Errorf("got %d calls, want 3", calls)
	}
}

func TestGenerateValidatedExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{Message: Message{Content: "nope"}, Done: true})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL}, zap.NewNop())
	_, err := GenerateValidated(context.Background(), p, &ChatRequest{Model: "m"}, 2, func(string) error {
		return errors.New("rejected")
	})
	if err == nil || err.Error() != "rejected" {
		t.Errorf("got %v, want rejected", err)
	}
}
