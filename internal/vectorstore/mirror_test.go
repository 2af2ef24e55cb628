package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/tomyimkc/generative-agents/internal/memory"
)

func TestMirrorSkipsNodesWithoutEmbedding(t *testing.T) {
	m := &MemoryMirror{collection: "test"}

	node := memory.Node{
		ID:      uuid.New(),
		Kind:    memory.KindObservation,
		Content: "saw the gate open",
	}
	if err := m.MirrorNode(context.Background(), uuid.New(), node); err != nil {
		t.Fatalf("MirrorNode() error = %v, want nil for node without embedding", err)
	}
}
