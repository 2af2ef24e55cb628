package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/tomyimkc/generative-agents/internal/memory"
)

// MemoryMirror indexes memory nodes into a Qdrant collection so they
// can be searched by vector similarity from outside the process. Nodes
// without an embedding are skipped.
type MemoryMirror struct {
	client     *Client
	collection string
}

// NewMemoryMirror ensures the collection exists and returns the mirror.
func NewMemoryMirror(ctx context.Context, client *Client, collection string, dimension int) (*MemoryMirror, error) {
	if err := client.EnsureCollection(ctx, collection, uint64(dimension)); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return &MemoryMirror{client: client, collection: collection}, nil
}

// MirrorNode upserts the node's embedding with its metadata as payload.
func (m *MemoryMirror) MirrorNode(ctx context.Context, agentID uuid.UUID, node memory.Node) error {
	if len(node.Embedding) == 0 {
		return nil
	}
	return m.client.Upsert(ctx, m.collection, node.ID.String(), node.Embedding, map[string]string{
		"agent_id":   agentID.String(),
		"kind":       node.Kind,
		"content":    node.Content,
		"tick":       strconv.FormatInt(node.Tick, 10),
		"importance": strconv.Itoa(node.Importance),
	})
}

// Similar returns the ids and contents of the nodes nearest to the
// query vector.
func (m *MemoryMirror) Similar(ctx context.Context, vector []float32, k int) ([]*SearchResult, error) {
	return m.client.Search(ctx, m.collection, vector, uint64(k))
}
