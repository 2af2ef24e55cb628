package agent

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/memory"
)

// Agent is one simulated persona: identity, position, current plan and
// memory stream. Created is the registration order and decides conflict
// priority.
type Agent struct {
	ID      uuid.UUID
	Persona Persona
	Created int

	Memory *memory.Stream

	mu        sync.RWMutex
	pos       maze.Coord
	plan      *Plan
	lastSaid  string
	currently string
}

// New builds an agent with an empty plan at the given spawn tile. The
// agent takes its id from the memory stream so mirrored nodes stay
// attributable to it.
func New(p Persona, created int, spawn maze.Coord, mem *memory.Stream) *Agent {
	return &Agent{
		ID:      mem.AgentID(),
		Persona: p,
		Created: created,
		Memory:  mem,
		pos:     spawn,
	}
}

// Pos returns the agent's current tile.
func (a *Agent) Pos() maze.Coord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pos
}

// SetPos records a committed move.
func (a *Agent) SetPos(c maze.Coord) {
	a.mu.Lock()
	a.pos = c
	a.mu.Unlock()
}

// Plan returns the current plan, which may be nil.
func (a *Agent) Plan() *Plan {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.plan
}

// SetPlan replaces the current plan.
func (a *Agent) SetPlan(p *Plan) {
	a.mu.Lock()
	a.plan = p
	a.mu.Unlock()
}

// LastSaid returns the agent's most recent utterance.
func (a *Agent) LastSaid() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastSaid
}

// SetLastSaid records an utterance.
func (a *Agent) SetLastSaid(s string) {
	a.mu.Lock()
	a.lastSaid = s
	a.mu.Unlock()
}

// Currently describes the agent's present activity. It starts as the
// persona's configured description and can be overridden at runtime,
// e.g. by the live-data bridge while its feed is active.
func (a *Agent) Currently() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.currently != "" {
		return a.currently
	}
	return a.Persona.Currently
}

// SetCurrently overrides the current activity. An empty string restores
// the persona's configured description.
func (a *Agent) SetCurrently(s string) {
	a.mu.Lock()
	a.currently = s
	a.mu.Unlock()
}

// Plan is a short horizon of intended actions. Cursor points at the
// step currently being executed.
type Plan struct {
	Goal   string     `json:"goal"`
	Steps  []PlanStep `json:"steps"`
	Cursor int        `json:"cursor"`
}

// PlanStep is one intended action within a plan.
type PlanStep struct {
	Description string `json:"description"`
	Arena       string `json:"arena,omitempty"`
	Object      string `json:"object,omitempty"`
}

// Current returns the step under the cursor, or false when the plan is
// finished.
func (p *Plan) Current() (PlanStep, bool) {
	if p == nil || p.Cursor >= len(p.Steps) {
		return PlanStep{}, false
	}
	return p.Steps[p.Cursor], true
}

// Advance moves the cursor to the next step.
func (p *Plan) Advance() {
	if p != nil && p.Cursor < len(p.Steps) {
		p.Cursor++
	}
}
