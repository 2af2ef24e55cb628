package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaProviderEmbed(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("got path %q, want /api/embeddings", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotModel = req.Model
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text", Dimension: 768})
	vecs, err := p.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Errorf("got %d vectors of dim %d, want 2 of dim 3", len(vecs), len(vecs[0]))
	}
	if gotModel != "nomic-embed-text" {
		t.Errorf("got model %q", gotModel)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want observed 3", p.Dimension())
	}
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "missing", Dimension: 768})
	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error from non-200 response")
	}
	if p.Dimension() != 768 {
		t.Errorf("got dimension %d, want configured 768", p.Dimension())
	}
}

func TestAPIProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("got auth header %q", got)
		}
		json.NewEncoder(w).Encode(apiResponse{Data: []apiEmbeddingData{
			{Embedding: []float32{1, 0}},
			{Embedding: []float32{0, 1}},
		}})
	}))
	defer srv.Close()

	p := NewAPIProvider(Config{Endpoint: srv.URL, Model: "text-embedding-3-small", APIKey: "sk-test"})
	vecs, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
}

func TestZeroVector(t *testing.T) {
	v := ZeroVector(4)
	if len(v) != 4 {
		t.Fatalf("got len %d, want 4", len(v))
	}
	for i, x := range v {
		if x != 0 {
			t.Errorf("component %d = %f, want 0", i, x)
		}
	}
}
