package cognition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/embedding"
	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/memory"
	"github.com/tomyimkc/generative-agents/internal/provider"
)

// Config tunes the cognition loop.
type Config struct {
	Model            string
	Temperature      float64
	PerceptionRadius int
	RetrievalK       int
	ReflectThreshold int
	DecideAttempts   int
}

// Pipeline runs the per-agent cognition loop: perceive, retrieve,
// decide, act. It never mutates the world; decisions come back as
// proposals for the scheduler to commit.
type Pipeline struct {
	chat   provider.Provider
	embed  embedding.Provider
	world  *maze.Maze
	cfg    Config
	logger *zap.Logger
}

// NewPipeline builds a cognition pipeline. embed may be nil; relevance
// then contributes nothing to retrieval.
func NewPipeline(chat provider.Provider, embed embedding.Provider, world *maze.Maze, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.DecideAttempts <= 0 {
		cfg.DecideAttempts = 3
	}
	return &Pipeline{chat: chat, embed: embed, world: world, cfg: cfg, logger: logger}
}

// Proposal is an agent's intended behavior for one tick. When Move is
// set, Next is the single adjacent tile the agent wants to step onto.
type Proposal struct {
	Agent  *agent.Agent
	Action Action
	Move   bool
	Next   maze.Coord
	Said   string
}

// Propose runs one full cognition pass for the agent against a frozen
// world view. Model failures degrade to the current plan, then to a
// hold; Propose itself never fails a tick.
func (p *Pipeline) Propose(ctx context.Context, a *agent.Agent, view *maze.View, events []ExternalEvent, names map[uuid.UUID]string, tick int64) Proposal {
	observed := p.Perceive(ctx, a, view, events, names, tick)

	focus := a.Currently()
	if step, ok := a.Plan().Current(); ok {
		focus = step.Description
	}
	retrieved := p.Retrieve(ctx, a, focus, tick)

	action, err := p.Decide(ctx, a, view, observed, retrieved, tick)
	if err != nil {
		p.logger.Warn("decision failed, falling back to plan",
			zap.String("agent", a.Persona.Name),
			zap.Int64("tick", tick),
			zap.Error(err))
		action = p.fallbackAction(a)
	}
	return p.resolve(ctx, a, action, view, tick)
}

// Perceive turns nearby tiles and injected events into observation
// nodes and returns their contents. Repeats of a recently stored
// observation are not re-appended.
func (p *Pipeline) Perceive(ctx context.Context, a *agent.Agent, view *maze.View, events []ExternalEvent, names map[uuid.UUID]string, tick int64) []string {
	var contents []string

	for _, t := range view.Nearby(a.Pos(), p.cfg.PerceptionRadius) {
		if t.Object != "" {
			contents = append(contents, fmt.Sprintf("%s is in the %s", t.Object, t.Arena))
		}
		if id, ok := view.OccupantOf(t.Coord); ok && id != a.ID {
			name := names[id]
			if name == "" {
				name = "someone"
			}
			where := t.Arena
			if where == "" {
				where = "nearby"
			}
			contents = append(contents, fmt.Sprintf("%s is in the %s", name, where))
		}
	}
	for _, ev := range events {
		if ev.Persona != "" && ev.Persona != a.Persona.Name {
			continue
		}
		contents = append(contents, ev.Text)
	}

	recent := a.Memory.Recent(20)
	seen := make(map[string]bool, len(recent))
	for _, n := range recent {
		seen[n.Content] = true
	}

	var stored []string
	for _, c := range contents {
		if seen[c] {
			continue
		}
		seen[c] = true
		node := memory.Node{
			Tick:       tick,
			Kind:       memory.KindObservation,
			Content:    c,
			Importance: p.scoreImportance(ctx, a.Persona, c),
			Embedding:  p.embedText(ctx, c),
		}
		if _, err := a.Memory.Append(ctx, node); err != nil {
			p.logger.Warn("store observation", zap.String("agent", a.Persona.Name), zap.Error(err))
			continue
		}
		stored = append(stored, c)
	}
	return stored
}

// Retrieve ranks the agent's memory against the focus text.
func (p *Pipeline) Retrieve(ctx context.Context, a *agent.Agent, focus string, tick int64) []memory.Scored {
	return a.Memory.Retrieve(memory.Query{
		Text:      focus,
		Embedding: p.embedText(ctx, focus),
		Tick:      tick,
	}, p.cfg.RetrievalK)
}

// Decide asks the model for the next action. Responses that fail the
// action grammar are retried; an exhausted retry budget surfaces the
// last parse or transport error.
func (p *Pipeline) Decide(ctx context.Context, a *agent.Agent, view *maze.View, observed []string, retrieved []memory.Scored, tick int64) (Action, error) {
	prompt := p.decidePrompt(a, view, observed, retrieved)

	var parsed Action
	_, err := provider.GenerateValidated(ctx, p.chat, &provider.ChatRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		Messages: []provider.Message{
			{Role: "system", Content: a.Persona.Summary()},
			{Role: "user", Content: prompt},
		},
	}, p.cfg.DecideAttempts, func(content string) error {
		act, perr := ParseAction(content)
		if perr != nil {
			return perr
		}
		parsed = act
		return nil
	})
	if err != nil {
		return Action{}, err
	}
	return parsed, nil
}

func (p *Pipeline) decidePrompt(a *agent.Agent, view *maze.View, observed []string, retrieved []memory.Scored) string {
	var b strings.Builder

	here, _ := view.TileAt(a.Pos())
	where := here.Arena
	if where == "" {
		where = "an open area"
	}
	fmt.Fprintf(&b, "You are standing in the %s.\n", where)

	if len(observed) > 0 {
		b.WriteString("You just noticed:\n")
		for _, c := range observed {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(retrieved) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, s := range retrieved {
			fmt.Fprintf(&b, "- %s\n", s.Node.Content)
		}
	}
	if step, ok := a.Plan().Current(); ok {
		fmt.Fprintf(&b, "Your current intention: %s\n", step.Description)
	}

	fmt.Fprintf(&b, "Places you can go: %s.\n", strings.Join(p.world.Arenas(), ", "))
	b.WriteString("Choose exactly one next action and answer with a single JSON object:\n")
	b.WriteString(`{"action": "move", "arena": "<place>"} or ` +
		`{"action": "interact", "object": "<object>"} or ` +
		`{"action": "say", "text": "<utterance>"} or ` +
		`{"action": "idle"}`)
	return b.String()
}

// fallbackAction continues the current plan when the model is out of
// reach; an agent with no plan holds still.
func (p *Pipeline) fallbackAction(a *agent.Agent) Action {
	if step, ok := a.Plan().Current(); ok && step.Arena != "" {
		return Action{Kind: ActMove, Arena: step.Arena}
	}
	return Action{Kind: ActIdle}
}

// resolve maps a decided action onto the grid. Move picks the nearest
// reachable tile of the target arena and proposes one step along the
// path; when every route's first step is taken in the snapshot, the
// agent holds.
func (p *Pipeline) resolve(ctx context.Context, a *agent.Agent, action Action, view *maze.View, tick int64) Proposal {
	out := Proposal{Agent: a, Action: action}

	switch action.Kind {
	case ActMove:
		a.SetPlan(&agent.Plan{
			Goal:  "go to the " + action.Arena,
			Steps: []agent.PlanStep{{Description: "walk to the " + action.Arena, Arena: action.Arena}},
		})
		next, ok := p.nextStep(a, action.Arena, view)
		if !ok {
			return out
		}
		out.Move = true
		out.Next = next

	case ActSay:
		a.SetLastSaid(action.Text)
		out.Said = action.Text
		p.record(ctx, a, fmt.Sprintf("said: %s", action.Text), tick)

	case ActInteract:
		p.record(ctx, a, fmt.Sprintf("used the %s", action.Object), tick)
		if step, ok := a.Plan().Current(); ok && step.Object == action.Object {
			a.Plan().Advance()
		}
	}
	return out
}

// nextStep finds the first step toward the closest reachable tile of
// the arena. Candidate tiles are tried nearest first; a candidate whose
// first step is occupied in the snapshot is skipped.
func (p *Pipeline) nextStep(a *agent.Agent, arena string, view *maze.View) (maze.Coord, bool) {
	var routes [][]maze.Coord
	for _, goal := range p.world.ArenaTiles(arena) {
		path, err := view.FindPath(a.Pos(), goal)
		if err != nil {
			continue
		}
		routes = append(routes, path)
	}
	if len(routes) == 0 {
		p.logger.Debug("no route to arena",
			zap.String("agent", a.Persona.Name),
			zap.String("arena", arena))
		return maze.Coord{}, false
	}

	sort.SliceStable(routes, func(i, j int) bool {
		if len(routes[i]) != len(routes[j]) {
			return len(routes[i]) < len(routes[j])
		}
		return routes[i][len(routes[i])-1].Less(routes[j][len(routes[j])-1])
	})

	if len(routes[0]) < 2 {
		// Already inside the arena.
		if step, ok := a.Plan().Current(); ok && step.Arena == arena {
			a.Plan().Advance()
		}
		return maze.Coord{}, false
	}
	for _, path := range routes {
		next := path[1]
		if id, held := view.OccupantOf(next); held && id != a.ID {
			continue
		}
		return next, true
	}
	return maze.Coord{}, false
}

// Reflect synthesizes an insight when accumulated importance crosses
// the threshold. The reflection cites its source memories as parents.
// The accumulator only resets on success, so a failed model call just
// defers the reflection to a later tick.
func (p *Pipeline) Reflect(ctx context.Context, a *agent.Agent, tick int64) (memory.Node, bool) {
	if a.Memory.AccumulatedImportance() < p.cfg.ReflectThreshold {
		return memory.Node{}, false
	}

	sources := a.Memory.Retrieve(memory.Query{Text: a.Currently(), Tick: tick}, 5)
	if len(sources) == 0 {
		return memory.Node{}, false
	}

	var b strings.Builder
	b.WriteString("Statements about recent events:\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Node.Content)
	}
	b.WriteString("What single high-level insight can you draw from these statements? Answer with one sentence.")

	content, err := provider.GenerateValidated(ctx, p.chat, &provider.ChatRequest{
		Model:       p.cfg.Model,
		Temperature: p.cfg.Temperature,
		Messages: []provider.Message{
			{Role: "system", Content: a.Persona.Summary()},
			{Role: "user", Content: b.String()},
		},
	}, p.cfg.DecideAttempts, func(content string) error {
		if strings.TrimSpace(content) == "" {
			return errors.New("empty insight")
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("reflection failed", zap.String("agent", a.Persona.Name), zap.Error(err))
		return memory.Node{}, false
	}

	parents := make([]uuid.UUID, 0, len(sources))
	for _, s := range sources {
		parents = append(parents, s.Node.ID)
	}
	node, err := a.Memory.Append(ctx, memory.Node{
		Tick:       tick,
		Kind:       memory.KindReflection,
		Content:    strings.TrimSpace(content),
		Importance: p.scoreImportance(ctx, a.Persona, content),
		Embedding:  p.embedText(ctx, content),
		Parents:    parents,
	})
	if err != nil {
		p.logger.Warn("store reflection", zap.String("agent", a.Persona.Name), zap.Error(err))
		return memory.Node{}, false
	}
	a.Memory.ResetAccumulated()
	return node, true
}

// NoteContested records that another agent had to yield the tile this
// agent holds or just claimed.
func (p *Pipeline) NoteContested(ctx context.Context, a *agent.Agent, other string, tick int64) {
	if other == "" {
		return
	}
	node := memory.Node{
		Tick:       tick,
		Kind:       memory.KindObservation,
		Content:    fmt.Sprintf("%s had to wait for me, we wanted the same spot", other),
		Importance: 1,
	}
	if _, err := a.Memory.Append(ctx, node); err != nil {
		p.logger.Warn("store contest note", zap.String("agent", a.Persona.Name), zap.Error(err))
	}
}

// NoteConflict records that the agent got blocked this tick.
func (p *Pipeline) NoteConflict(ctx context.Context, a *agent.Agent, blocker string, tick int64) {
	content := "had to wait, the way was blocked"
	if blocker != "" {
		content = fmt.Sprintf("had to wait for %s, the way was blocked", blocker)
	}
	node := memory.Node{
		Tick:       tick,
		Kind:       memory.KindObservation,
		Content:    content,
		Importance: 2,
	}
	if _, err := a.Memory.Append(ctx, node); err != nil {
		p.logger.Warn("store conflict note", zap.String("agent", a.Persona.Name), zap.Error(err))
	}
}

func (p *Pipeline) record(ctx context.Context, a *agent.Agent, content string, tick int64) {
	node := memory.Node{
		Tick:       tick,
		Kind:       memory.KindObservation,
		Content:    content,
		Importance: p.scoreImportance(ctx, a.Persona, content),
		Embedding:  p.embedText(ctx, content),
	}
	if _, err := a.Memory.Append(ctx, node); err != nil {
		p.logger.Warn("store action memory", zap.String("agent", a.Persona.Name), zap.Error(err))
	}
}

// scoreImportance asks the model to rate poignancy 1..10. A failed or
// malformed rating falls back to a neutral 3.
func (p *Pipeline) scoreImportance(ctx context.Context, persona agent.Persona, content string) int {
	prompt := fmt.Sprintf(
		"On a scale of 1 to 10, where 1 is mundane (brushing teeth, walking) and 10 is extremely poignant (a death, an attack on your home), rate the likely poignancy of the following event for %s.\nEvent: %s\nAnswer with a single integer.",
		persona.Name, content)

	var score int
	_, err := provider.GenerateValidated(ctx, p.chat, &provider.ChatRequest{
		Model:       p.cfg.Model,
		Temperature: 0,
		MaxTokens:   8,
		Messages:    []provider.Message{{Role: "user", Content: prompt}},
	}, 2, func(content string) error {
		n, perr := strconv.Atoi(strings.TrimSpace(content))
		if perr != nil {
			return fmt.Errorf("not an integer rating: %q", content)
		}
		score = n
		return nil
	})
	if err != nil {
		return 3
	}
	if score < 1 {
		score = 1
	}
	if score > 10 {
		score = 10
	}
	return score
}

// embedText embeds a single text, degrading to a zero vector when the
// embedding backend is missing or failing.
func (p *Pipeline) embedText(ctx context.Context, text string) []float32 {
	if p.embed == nil || text == "" {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	vecs, err := p.embed.Embed(ectx, []string{text})
	if err != nil || len(vecs) == 0 {
		p.logger.Debug("embedding fallback", zap.Error(err))
		return embedding.ZeroVector(p.embed.Dimension())
	}
	return vecs[0]
}
