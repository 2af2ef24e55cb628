package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// LineageGraph exports memory nodes and their derivation edges to
// Neo4j. It is an optional Mirror; the simulation runs unchanged when
// it is absent or failing.
type LineageGraph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewLineageGraph connects to Neo4j and verifies connectivity.
func NewLineageGraph(ctx context.Context, uri, user, password string, logger *zap.Logger) (*LineageGraph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return &LineageGraph{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *LineageGraph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// MirrorNode writes the node and its DERIVED_FROM edges. Parents are
// matched by id; an edge to a parent Neo4j has never seen is silently
// skipped rather than failing the export.
func (g *LineageGraph) MirrorNode(ctx context.Context, agentID uuid.UUID, node Node) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (n:MemoryNode {id: $id})
		 SET n.agent_id = $agentId, n.seq = $seq, n.tick = $tick,
		     n.kind = $kind, n.content = $content,
		     n.importance = $importance, n.created_at = datetime()
		 WITH n
		 UNWIND $parents AS pid
		 MATCH (p:MemoryNode {id: pid})
		 MERGE (n)-[:DERIVED_FROM]->(p)`,
		map[string]interface{}{
			"id":         node.ID.String(),
			"agentId":    agentID.String(),
			"seq":        node.Seq,
			"tick":       node.Tick,
			"kind":       node.Kind,
			"content":    node.Content,
			"importance": node.Importance,
			"parents":    parentIDs(node.Parents),
		})
	if err != nil {
		return fmt.Errorf("mirror node %s: %w", node.ID, err)
	}
	return nil
}

// Lineage returns the ids of all ancestors of a node, nearest first.
func (g *LineageGraph) Lineage(ctx context.Context, nodeID uuid.UUID) ([]string, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (n:MemoryNode {id: $id})-[:DERIVED_FROM*1..]->(a:MemoryNode)
		 RETURN DISTINCT a.id AS id, a.seq AS seq
		 ORDER BY seq DESC`,
		map[string]interface{}{"id": nodeID.String()})
	if err != nil {
		return nil, fmt.Errorf("query lineage of %s: %w", nodeID, err)
	}

	var ids []string
	for result.Next(ctx) {
		id, _ := result.Record().Get("id")
		ids = append(ids, id.(string))
	}
	return ids, result.Err()
}

func parentIDs(parents []uuid.UUID) []string {
	out := make([]string, len(parents))
	for i, p := range parents {
		out[i] = p.String()
	}
	return out
}
