package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Node kinds.
const (
	KindObservation = "observation"
	KindReflection  = "reflection"
	KindPlan        = "plan"
)

var (
	// ErrInvalidLineage is returned when a node references a parent that
	// is not in the stream.
	ErrInvalidLineage = errors.New("parent node not in stream")
	// ErrUnknownKind is returned for node kinds outside the known set.
	ErrUnknownKind = errors.New("unknown node kind")
)

// Node is one entry in an agent's memory stream. Seq is the append
// position and never changes; ties in retrieval scoring resolve by Seq.
type Node struct {
	ID         uuid.UUID   `json:"id"`
	Seq        int         `json:"seq"`
	Tick       int64       `json:"tick"`
	Kind       string      `json:"kind"`
	Content    string      `json:"content"`
	Importance int         `json:"importance"`
	Embedding  []float32   `json:"-"`
	Parents    []uuid.UUID `json:"parents,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Mirror receives appended nodes for export to external systems. Calls
// are best effort; failures never affect the stream.
type Mirror interface {
	MirrorNode(ctx context.Context, agentID uuid.UUID, node Node) error
}

// MultiMirror fans a node out to several mirrors. The first failure is
// returned; remaining mirrors still receive the node.
type MultiMirror []Mirror

func (m MultiMirror) MirrorNode(ctx context.Context, agentID uuid.UUID, node Node) error {
	var first error
	for _, mirror := range m {
		if err := mirror.MirrorNode(ctx, agentID, node); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Weights tunes the three retrieval components.
type Weights struct {
	Recency    float64
	Importance float64
	Relevance  float64
	Decay      float64
}

// Stream is one agent's append-only memory. All mutation goes through
// Append; nodes are never removed or rewritten.
type Stream struct {
	mu          sync.RWMutex
	agentID     uuid.UUID
	nodes       []Node
	byID        map[uuid.UUID]int
	weights     Weights
	accumulated int

	mirror Mirror
	logger *zap.Logger
}

// NewStream creates an empty memory stream for an agent. mirror may be
// nil.
func NewStream(agentID uuid.UUID, w Weights, mirror Mirror, logger *zap.Logger) *Stream {
	if w.Decay <= 0 || w.Decay > 1 {
		w.Decay = 0.995
	}
	return &Stream{
		agentID: agentID,
		byID:    make(map[uuid.UUID]int),
		weights: w,
		mirror:  mirror,
		logger:  logger,
	}
}

// Append adds a node to the stream. ID, Seq and CreatedAt are assigned
// here; Importance is clamped to 1..10. Parents must already exist in
// the stream.
func (s *Stream) Append(_ context.Context, node Node) (Node, error) {
	switch node.Kind {
	case KindObservation, KindReflection, KindPlan:
	default:
		return Node{}, fmt.Errorf("append %q: %w", node.Kind, ErrUnknownKind)
	}
	if node.Importance < 1 {
		node.Importance = 1
	}
	if node.Importance > 10 {
		node.Importance = 10
	}

	s.mu.Lock()
	for _, p := range node.Parents {
		if _, ok := s.byID[p]; !ok {
			s.mu.Unlock()
			return Node{}, fmt.Errorf("append: parent %s: %w", p, ErrInvalidLineage)
		}
	}
	node.ID = uuid.New()
	node.Seq = len(s.nodes)
	node.CreatedAt = time.Now()
	s.nodes = append(s.nodes, node)
	s.byID[node.ID] = node.Seq
	s.accumulated += node.Importance
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mirror.MirrorNode(mctx, s.agentID, node); err != nil && s.logger != nil {
				s.logger.Warn("memory mirror failed",
					zap.String("agent", s.agentID.String()),
					zap.String("node", node.ID.String()),
					zap.Error(err))
			}
		}()
	}
	return node, nil
}

// AgentID returns the id of the agent that owns the stream.
func (s *Stream) AgentID() uuid.UUID {
	return s.agentID
}

// Get returns a node by id.
func (s *Stream) Get(id uuid.UUID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Node{}, false
	}
	return s.nodes[i], true
}

// Len returns the number of nodes in the stream.
func (s *Stream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// Recent returns the last n nodes in append order.
func (s *Stream) Recent(n int) []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.nodes) {
		n = len(s.nodes)
	}
	out := make([]Node, n)
	copy(out, s.nodes[len(s.nodes)-n:])
	return out
}

// AccumulatedImportance returns the importance sum since the last call
// to ResetAccumulated. Drives the reflection trigger.
func (s *Stream) AccumulatedImportance() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accumulated
}

// ResetAccumulated zeroes the reflection accumulator.
func (s *Stream) ResetAccumulated() {
	s.mu.Lock()
	s.accumulated = 0
	s.mu.Unlock()
}

// Query describes a retrieval request. Embedding may be nil, in which
// case relevance contributes zero for every node.
type Query struct {
	Text      string
	Embedding []float32
	Tick      int64
}

// Scored pairs a node with its retrieval score.
type Scored struct {
	Node  Node
	Score float64
}

// Retrieve ranks the stream against the query and returns the top k
// nodes. Score is a weighted sum of recency (exponential decay over tick
// age), importance (normalized 1..10) and relevance (cosine similarity
// shifted to 0..1). Equal scores order by Seq descending, newest first.
func (s *Stream) Retrieve(q Query, k int) []Scored {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]Scored, 0, len(s.nodes))
	for _, n := range s.nodes {
		age := float64(q.Tick - n.Tick)
		if age < 0 {
			age = 0
		}
		recency := math.Pow(s.weights.Decay, age)
		importance := float64(n.Importance-1) / 9.0
		relevance := 0.0
		if cos, ok := cosine(q.Embedding, n.Embedding); ok {
			relevance = (cos + 1) / 2
		}
		score := s.weights.Recency*recency +
			s.weights.Importance*importance +
			s.weights.Relevance*relevance
		scored = append(scored, Scored{Node: n, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Node.Seq > scored[j].Node.Seq
	})
	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

// cosine reports the similarity of two vectors. ok is false when either
// vector is absent or all-zero; missing embeddings then contribute no
// relevance at all instead of a constant mid-scale score.
func cosine(a, b []float32) (float64, bool) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}
