package cognition

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/memory"
	"github.com/tomyimkc/generative-agents/internal/provider"
)

// scriptedChat answers by prompt shape so importance ratings, decisions
// and reflections can be scripted independently.
type scriptedChat struct {
	decide  string
	insight string
	err     error
}

func (s *scriptedChat) ID() string                          { return "test" }
func (s *scriptedChat) Name() string                        { return "test" }
func (s *scriptedChat) HealthCheck(context.Context) error   { return nil }
func (s *scriptedChat) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(prompt, "scale of 1 to 10"):
		return &provider.ChatResponse{Content: "4"}, nil
	case strings.Contains(prompt, "high-level insight"):
		return &provider.ChatResponse{Content: s.insight}, nil
	default:
		return &provider.ChatResponse{Content: s.decide}, nil
	}
}

const testMazeJSON = `{
	"name": "camp",
	"rows": 5,
	"cols": 5,
	"walls": [],
	"sectors": [
		{
			"name": "hq",
			"arenas": [
				{"name": "war room", "tiles": [{"row": 0, "col": 0}, {"row": 0, "col": 1}],
				 "objects": {"map table": {"row": 0, "col": 1}}},
				{"name": "yard", "tiles": [{"row": 4, "col": 4}]}
			]
		}
	]
}`

func testWorld(t *testing.T) *maze.Maze {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camp.json")
	if err := os.WriteFile(path, []byte(testMazeJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	world, err := maze.Load(path)
	if err != nil {
		t.Fatalf("load maze: %v", err)
	}
	return world
}

func testAgent(t *testing.T, world *maze.Maze, name string, spawn maze.Coord) *agent.Agent {
	t.Helper()
	mem := memory.NewStream(uuid.New(), memory.Weights{Recency: 0.5, Importance: 1, Relevance: 3, Decay: 0.995}, nil, nil)
	a := agent.New(agent.Persona{Name: name, Currently: "patrolling the camp"}, 0, spawn, mem)
	if err := world.Place(a.ID, spawn); err != nil {
		t.Fatalf("place: %v", err)
	}
	return a
}

func testPipeline(chat provider.Provider, world *maze.Maze) *Pipeline {
	return NewPipeline(chat, nil, world, Config{
		Model:            "test",
		PerceptionRadius: 8,
		RetrievalK:       10,
		ReflectThreshold: 10,
	}, zap.NewNop())
}

func TestProposeMove(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 4, Col: 0})
	chat := &scriptedChat{decide: `{"action": "move", "arena": "war room"}`}
	p := testPipeline(chat, world)

	got := p.Propose(context.Background(), a, world.Snapshot(), nil, nil, 1)
	if !got.Move {
		t.Fatal("expected a move proposal")
	}
	// Nearest war room tile is (0,0); first step from (4,0) is up.
	if got.Next != (maze.Coord{Row: 3, Col: 0}) {
		t.Errorf("got next %s, want (3,0)", got.Next)
	}
	if step, ok := a.Plan().Current(); !ok || step.Arena != "war room" {
		t.Errorf("plan not updated: %+v", a.Plan())
	}
}

func TestProposeFallsBackToPlan(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 4, Col: 0})
	a.SetPlan(&agent.Plan{
		Goal:  "go to the war room",
		Steps: []agent.PlanStep{{Description: "walk to the war room", Arena: "war room"}},
	})
	chat := &scriptedChat{err: provider.ErrUnavailable}
	p := testPipeline(chat, world)

	got := p.Propose(context.Background(), a, world.Snapshot(), nil, nil, 1)
	if !got.Move || got.Next != (maze.Coord{Row: 3, Col: 0}) {
		t.Errorf("fallback did not continue the plan: %+v", got)
	}
}

func TestProposeUnavailableNoPlanHolds(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 2, Col: 2})
	chat := &scriptedChat{err: provider.ErrUnavailable}
	p := testPipeline(chat, world)

	got := p.Propose(context.Background(), a, world.Snapshot(), nil, nil, 1)
	if got.Move {
		t.Errorf("agent without a plan should hold, got move to %s", got.Next)
	}
}

func TestProposeBlockedFirstStepHolds(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 4, Col: 0})
	// Both routes out of the corner pass (3,0) or (4,1); block both.
	b := testAgent(t, world, "Greta", maze.Coord{Row: 3, Col: 0})
	c := testAgent(t, world, "Udo", maze.Coord{Row: 4, Col: 1})
	_, _ = b, c

	chat := &scriptedChat{decide: `{"action": "move", "arena": "war room"}`}
	p := testPipeline(chat, world)

	got := p.Propose(context.Background(), a, world.Snapshot(), nil, nil, 1)
	if got.Move {
		t.Errorf("expected hold with first step occupied, got move to %s", got.Next)
	}
}

func TestPerceiveStoresEventsAndDedupes(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 0, Col: 0})
	p := testPipeline(&scriptedChat{}, world)

	events := []ExternalEvent{
		{Source: "bridge", Type: "attack", Text: "riders were seen near the east gate"},
		{Source: "bridge", Type: "trade", Persona: "Greta", Text: "a merchant arrived"},
	}
	view := world.Snapshot()
	stored := p.Perceive(context.Background(), a, view, events, nil, 1)

	var sawEvent, sawOther bool
	for _, c := range stored {
		if c == "riders were seen near the east gate" {
			sawEvent = true
		}
		if c == "a merchant arrived" {
			sawOther = true
		}
	}
	if !sawEvent {
		t.Error("broadcast event not perceived")
	}
	if sawOther {
		t.Error("event addressed to another persona was perceived")
	}

	before := a.Memory.Len()
	p.Perceive(context.Background(), a, view, events, nil, 2)
	if a.Memory.Len() != before {
		t.Errorf("repeat perception appended %d duplicate nodes", a.Memory.Len()-before)
	}
}

func TestPerceiveSeesNeighbors(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 0, Col: 0})
	b := testAgent(t, world, "Greta", maze.Coord{Row: 0, Col: 1})
	p := testPipeline(&scriptedChat{}, world)

	names := map[uuid.UUID]string{b.ID: "Greta"}
	stored := p.Perceive(context.Background(), a, world.Snapshot(), nil, names, 1)

	var sawGreta bool
	for _, c := range stored {
		if c == "Greta is in the war room" {
			sawGreta = true
		}
	}
	if !sawGreta {
		t.Errorf("neighbor not perceived, stored: %v", stored)
	}
}

func TestReflectTriggersAndResets(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 2, Col: 2})
	chat := &scriptedChat{insight: "The camp is bracing for a raid."}
	p := testPipeline(chat, world)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := a.Memory.Append(ctx, memory.Node{
			Kind: memory.KindObservation, Content: "troops drilling", Importance: 5, Tick: int64(i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	node, ok := p.Reflect(ctx, a, 3)
	if !ok {
		t.Fatal("reflection did not trigger above threshold")
	}
	if node.Kind != memory.KindReflection {
		t.Errorf("got kind %q", node.Kind)
	}
	if len(node.Parents) == 0 {
		t.Error("reflection has no lineage")
	}
	if a.Memory.AccumulatedImportance() != 0 {
		t.Errorf("accumulator %d after reflection, want 0", a.Memory.AccumulatedImportance())
	}

	if _, again := p.Reflect(ctx, a, 4); again {
		t.Error("reflection fired twice without new accumulation")
	}
}

func TestReflectBelowThresholdNoop(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 2, Col: 2})
	p := testPipeline(&scriptedChat{insight: "x"}, world)

	if _, ok := p.Reflect(context.Background(), a, 1); ok {
		t.Error("reflection fired with empty memory")
	}
}

func TestNoteConflict(t *testing.T) {
	world := testWorld(t)
	a := testAgent(t, world, "Klaus", maze.Coord{Row: 2, Col: 2})
	p := testPipeline(&scriptedChat{}, world)

	p.NoteConflict(context.Background(), a, "Greta", 7)
	recent := a.Memory.Recent(1)
	if len(recent) != 1 || !strings.Contains(recent[0].Content, "Greta") {
		t.Errorf("conflict note missing: %v", recent)
	}
	if recent[0].Tick != 7 {
		t.Errorf("got tick %d, want 7", recent[0].Tick)
	}
}
