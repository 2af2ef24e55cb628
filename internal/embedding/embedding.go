package embedding

import "context"

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Provider  string `json:"provider"` // "ollama" or "openai"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// ZeroVector returns an all-zero embedding of the given dimension.
// Callers fall back to it when the provider is unreachable so memory
// nodes still carry a vector of the right shape.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}
