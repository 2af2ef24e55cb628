package sim

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/cognition"
	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/memory"
	"github.com/tomyimkc/generative-agents/internal/provider"
	"github.com/tomyimkc/generative-agents/internal/store"
)

// routedChat picks a scripted decision per persona, rates importance
// with a constant, and fails reflection prompts so tests stay focused.
type routedChat struct {
	decisions map[string]string
	err       error
}

func (c *routedChat) ID() string                        { return "test" }
func (c *routedChat) Name() string                      { return "test" }
func (c *routedChat) HealthCheck(context.Context) error { return nil }
func (c *routedChat) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	if strings.Contains(prompt, "scale of 1 to 10") {
		return &provider.ChatResponse{Content: "3"}, nil
	}
	if strings.Contains(prompt, "high-level insight") {
		return nil, provider.ErrUnavailable
	}
	for name, decide := range c.decisions {
		if strings.Contains(req.Messages[0].Content, name) {
			return &provider.ChatResponse{Content: decide}, nil
		}
	}
	return &provider.ChatResponse{Content: `{"action": "idle"}`}, nil
}

const corridorJSON = `{
	"name": "corridor",
	"rows": 1,
	"cols": 5,
	"walls": [],
	"sectors": [
		{
			"name": "hall",
			"arenas": [
				{"name": "west end", "tiles": [{"row": 0, "col": 0}]},
				{"name": "middle", "tiles": [{"row": 0, "col": 1}]},
				{"name": "east end", "tiles": [{"row": 0, "col": 4}]}
			]
		}
	]
}`

func loadWorld(t *testing.T, body string) *maze.Maze {
	t.Helper()
	path := filepath.Join(t.TempDir(), "world.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	world, err := maze.Load(path)
	if err != nil {
		t.Fatalf("load world: %v", err)
	}
	return world
}

func newAgent(name string, created int, spawn maze.Coord) *agent.Agent {
	mem := memory.NewStream(uuid.New(), memory.Weights{Recency: 0.5, Importance: 1, Relevance: 3, Decay: 0.995}, nil, nil)
	return agent.New(agent.Persona{Name: name, Currently: "on duty"}, created, spawn, mem)
}

func newScheduler(t *testing.T, world *maze.Maze, chat provider.Provider, log store.FrameLog) *Scheduler {
	t.Helper()
	pipe := cognition.NewPipeline(chat, nil, world, cognition.Config{
		Model:            "test",
		PerceptionRadius: 8,
		RetrievalK:       10,
		ReflectThreshold: 1000,
	}, zap.NewNop())
	return New(world, pipe, log, Config{
		RunID:      "test-run",
		StartDate:  time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
		SecPerStep: 10,
		PoolSize:   4,
	}, zap.NewNop())
}

func TestStepCorridorConflict(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	chat := &routedChat{decisions: map[string]string{
		"Klaus": `{"action": "move", "arena": "middle"}`,
		"Greta": `{"action": "move", "arena": "middle"}`,
	}}
	s := newScheduler(t, world, chat, nil)

	klaus := newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 0})
	greta := newAgent("Greta", 1, maze.Coord{Row: 0, Col: 2})
	if err := s.Register(klaus); err != nil {
		t.Fatal(err)
	}
	if err := s.Register(greta); err != nil {
		t.Fatal(err)
	}

	frame, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	// Both targeted (0,1); Klaus registered first and wins.
	if klaus.Pos() != (maze.Coord{Row: 0, Col: 1}) {
		t.Errorf("klaus at %s, want (0,1)", klaus.Pos())
	}
	if greta.Pos() != (maze.Coord{Row: 0, Col: 2}) {
		t.Errorf("greta at %s, want unchanged (0,2)", greta.Pos())
	}
	if !frame.Agents["Greta"].Blocked {
		t.Error("greta's frame not marked blocked")
	}
	if frame.Agents["Klaus"].Blocked {
		t.Error("klaus's frame marked blocked")
	}

	var noted bool
	for _, n := range greta.Memory.Recent(10) {
		if strings.Contains(n.Content, "blocked") {
			noted = true
		}
	}
	if !noted {
		t.Error("greta has no memory of the conflict")
	}

	// The winner remembers the contested tile too.
	noted = false
	for _, n := range klaus.Memory.Recent(10) {
		if strings.Contains(n.Content, "Greta had to wait") {
			noted = true
		}
	}
	if !noted {
		t.Error("klaus has no memory of the contested tile")
	}
}

func TestStepOccupancyInvariant(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	chat := &routedChat{decisions: map[string]string{
		"Klaus": `{"action": "move", "arena": "east end"}`,
		"Greta": `{"action": "move", "arena": "east end"}`,
		"Udo":   `{"action": "move", "arena": "west end"}`,
	}}
	s := newScheduler(t, world, chat, nil)

	agents := []*agent.Agent{
		newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 0}),
		newAgent("Greta", 1, maze.Coord{Row: 0, Col: 2}),
		newAgent("Udo", 2, maze.Coord{Row: 0, Col: 4}),
	}
	for _, a := range agents {
		if err := s.Register(a); err != nil {
			t.Fatal(err)
		}
	}

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if _, err := s.Step(ctx); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		held := make(map[maze.Coord]string)
		for _, a := range agents {
			if prev, taken := held[a.Pos()]; taken {
				t.Fatalf("step %d: %s and %s share tile %s", i, prev, a.Persona.Name, a.Pos())
			}
			held[a.Pos()] = a.Persona.Name
		}
	}
}

func TestStepTickAndClock(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	log, err := store.NewFileLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newScheduler(t, world, &routedChat{}, log)
	if err := s.Register(newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 0})); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	first, err := s.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	second, err := s.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}

	if first.Tick != 0 || second.Tick != 1 {
		t.Errorf("got ticks %d, %d; want 0, 1", first.Tick, second.Tick)
	}
	if got := second.Time.Sub(first.Time); got != 10*time.Second {
		t.Errorf("sim clock advanced %v, want 10s", got)
	}
	if s.Tick() != 2 {
		t.Errorf("got tick counter %d, want 2", s.Tick())
	}

	// Both frames must be readable back from the log.
	for _, tick := range []int64{0, 1} {
		if _, err := log.Frame(ctx, "test-run", tick); err != nil {
			t.Errorf("frame %d not persisted: %v", tick, err)
		}
	}
}

func TestStepModelDownAgentsHold(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	chat := &routedChat{err: provider.ErrUnavailable}
	s := newScheduler(t, world, chat, nil)

	a := newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 2})
	if err := s.Register(a); err != nil {
		t.Fatal(err)
	}

	frame, err := s.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if a.Pos() != (maze.Coord{Row: 0, Col: 2}) {
		t.Errorf("agent moved to %s with the model down", a.Pos())
	}
	if frame.Agents["Klaus"].Action != "idle" {
		t.Errorf("got action %q, want idle", frame.Agents["Klaus"].Action)
	}
}

func TestStepEventCap(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	s := newScheduler(t, world, &routedChat{}, nil)
	if err := s.Register(newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 0})); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 7; i++ {
		s.Inject(cognition.ExternalEvent{Source: "bridge", Text: fmt.Sprintf("report %d", i)})
	}

	ctx := context.Background()
	first, err := s.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(first.Events) != 5 {
		t.Errorf("got %d events in first frame, want capped 5", len(first.Events))
	}
	second, err := s.Step(ctx)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(second.Events) != 2 {
		t.Errorf("got %d events in second frame, want spilled 2", len(second.Events))
	}
	if len(second.Events) > 0 && second.Events[0] != "report 5" {
		t.Errorf("got spilled event %q, want report 5 first", second.Events[0])
	}
}

func TestRunAndStop(t *testing.T) {
	world := loadWorld(t, corridorJSON)
	s := newScheduler(t, world, &routedChat{}, nil)
	if err := s.Register(newAgent("Klaus", 0, maze.Coord{Row: 0, Col: 0})); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for s.Tick() < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler made no progress")
		case <-time.After(5 * time.Millisecond):
		}
	}
	s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Running() {
		t.Error("still reported running after stop")
	}
}
