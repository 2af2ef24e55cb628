package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/agent"
	"github.com/tomyimkc/generative-agents/internal/cognition"
	"github.com/tomyimkc/generative-agents/internal/maze"
	"github.com/tomyimkc/generative-agents/internal/store"
)

// ErrRunning is returned when a stepped operation is attempted while
// the scheduler loop is active.
var ErrRunning = errors.New("scheduler is running")

// Config tunes the scheduler.
type Config struct {
	RunID           string
	StartDate       time.Time
	SecPerStep      int
	PoolSize        int
	ProposalTimeout time.Duration
	EventsPerTick   int
}

// Scheduler advances the world in discrete ticks. Each tick runs two
// phases: proposals are gathered concurrently against a frozen snapshot,
// then committed one agent at a time in registration order, so the
// outcome of a tick does not depend on goroutine timing.
type Scheduler struct {
	world    *maze.Maze
	pipeline *cognition.Pipeline
	log      store.FrameLog
	logger   *zap.Logger
	cfg      Config

	mu      sync.Mutex
	agents  []*agent.Agent
	names   map[uuid.UUID]string
	tick    int64
	pending []cognition.ExternalEvent
	running bool
	stop    chan struct{}

	onFrame func(store.Frame)
}

// New builds a scheduler. log may be nil to run without persistence.
func New(world *maze.Maze, pipeline *cognition.Pipeline, log store.FrameLog, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}
	if cfg.SecPerStep <= 0 {
		cfg.SecPerStep = 10
	}
	if cfg.ProposalTimeout <= 0 {
		cfg.ProposalTimeout = 60 * time.Second
	}
	if cfg.EventsPerTick <= 0 {
		cfg.EventsPerTick = 5
	}
	if cfg.StartDate.IsZero() {
		cfg.StartDate = time.Now().Truncate(time.Minute)
	}
	return &Scheduler{
		world:    world,
		pipeline: pipeline,
		log:      log,
		logger:   logger,
		cfg:      cfg,
		names:    make(map[uuid.UUID]string),
	}
}

// Register places an agent on the grid and adds it to the roster.
// Registration order decides conflict priority.
func (s *Scheduler) Register(a *agent.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.world.Place(a.ID, a.Pos()); err != nil {
		return fmt.Errorf("register %s: %w", a.Persona.Name, err)
	}
	s.agents = append(s.agents, a)
	s.names[a.ID] = a.Persona.Name
	return nil
}

// Agents returns the roster in registration order.
func (s *Scheduler) Agents() []*agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*agent.Agent, len(s.agents))
	copy(out, s.agents)
	return out
}

// AgentByName finds a registered agent by persona name.
func (s *Scheduler) AgentByName(name string) (*agent.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.agents {
		if a.Persona.Name == name {
			return a, true
		}
	}
	return nil, false
}

// Tick returns the number of completed ticks.
func (s *Scheduler) Tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// SimTime converts a tick to simulated wall time.
func (s *Scheduler) SimTime(tick int64) time.Time {
	return s.cfg.StartDate.Add(time.Duration(tick) * time.Duration(s.cfg.SecPerStep) * time.Second)
}

// Inject queues an external event for delivery at the next tick.
func (s *Scheduler) Inject(ev cognition.ExternalEvent) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
}

// OnFrame registers a hook called with every committed frame.
func (s *Scheduler) OnFrame(fn func(store.Frame)) {
	s.mu.Lock()
	s.onFrame = fn
	s.mu.Unlock()
}

// Step advances the world by exactly one tick and returns the committed
// frame.
func (s *Scheduler) Step(ctx context.Context) (store.Frame, error) {
	s.mu.Lock()
	tick := s.tick
	agents := make([]*agent.Agent, len(s.agents))
	copy(agents, s.agents)
	names := make(map[uuid.UUID]string, len(s.names))
	for id, n := range s.names {
		names[id] = n
	}
	events := s.takeEventsLocked()
	hook := s.onFrame
	s.mu.Unlock()

	view := s.world.Snapshot()

	// Phase one: gather proposals concurrently against the snapshot.
	proposals := make([]cognition.Proposal, len(agents))
	sem := make(chan struct{}, s.cfg.PoolSize)
	var wg sync.WaitGroup
	for i, a := range agents {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, a *agent.Agent) {
			defer wg.Done()
			defer func() { <-sem }()
			pctx, cancel := context.WithTimeout(ctx, s.cfg.ProposalTimeout)
			defer cancel()
			proposals[i] = s.pipeline.Propose(pctx, a, view, events, names, tick)
		}(i, a)
	}
	wg.Wait()

	// Phase two: commit in registration order. The first claimant of a
	// tile wins; later claimants hold. Both sides remember the contested
	// tile.
	frame := store.Frame{
		RunID:  s.cfg.RunID,
		Tick:   tick,
		Time:   s.SimTime(tick),
		Agents: make(map[string]store.AgentFrame, len(agents)),
	}
	for _, ev := range events {
		frame.Events = append(frame.Events, ev.Text)
	}

	for i, a := range agents {
		prop := proposals[i]
		af := store.AgentFrame{
			Position: a.Pos(),
			Action:   prop.Action.Kind,
			Said:     prop.Said,
		}
		if af.Action == "" {
			af.Action = "idle"
		}
		if prop.Move {
			if err := s.world.Move(a.ID, prop.Next); err != nil {
				af.Blocked = true
				blocker := ""
				if id, held := s.world.OccupantOf(prop.Next); held {
					blocker = names[id]
					for _, w := range agents {
						if w.ID == id {
							s.pipeline.NoteContested(ctx, w, a.Persona.Name, tick)
							break
						}
					}
				}
				s.pipeline.NoteConflict(ctx, a, blocker, tick)
				s.logger.Debug("move blocked",
					zap.String("agent", a.Persona.Name),
					zap.String("tile", prop.Next.String()),
					zap.Error(err))
			} else {
				a.SetPos(prop.Next)
				af.Position = prop.Next
			}
		}
		frame.Agents[a.Persona.Name] = af
	}

	// Reflection sweep after the world settles.
	for _, a := range agents {
		if _, ok := s.pipeline.Reflect(ctx, a, tick); ok {
			s.logger.Info("reflection",
				zap.String("agent", a.Persona.Name),
				zap.Int64("tick", tick))
		}
	}

	if s.log != nil {
		if err := s.log.Append(ctx, frame); err != nil {
			return store.Frame{}, fmt.Errorf("persist tick %d: %w", tick, err)
		}
	}

	s.mu.Lock()
	s.tick = tick + 1
	s.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
	return frame, nil
}

// takeEventsLocked drains up to EventsPerTick queued events; the rest
// wait for the next tick.
func (s *Scheduler) takeEventsLocked() []cognition.ExternalEvent {
	n := len(s.pending)
	if n > s.cfg.EventsPerTick {
		n = s.cfg.EventsPerTick
	}
	events := make([]cognition.ExternalEvent, n)
	copy(events, s.pending[:n])
	s.pending = append(s.pending[:0:0], s.pending[n:]...)
	return events
}

// Run steps the world on a fixed interval until the context ends or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if _, err := s.Step(ctx); err != nil {
				s.logger.Error("tick failed", zap.Int64("tick", s.Tick()), zap.Error(err))
			}
		}
	}
}

// Stop halts a Run loop. Safe to call when not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// Running reports whether the Run loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
