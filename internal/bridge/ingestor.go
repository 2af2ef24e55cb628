package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/cognition"
)

// Sink receives translated events; in production it is the scheduler's
// Inject method.
type Sink func(cognition.ExternalEvent)

// Ingestor polls bot event sources and feeds them into the world as
// persona-addressed thoughts. Events without type or message are
// dropped and logged.
type Ingestor struct {
	sources []Source
	sink    Sink
	phase   func(Event)
	logger  *zap.Logger
}

// NewIngestor builds an ingestor over the given sources.
func NewIngestor(sources []Source, sink Sink, logger *zap.Logger) *Ingestor {
	return &Ingestor{sources: sources, sink: sink, logger: logger}
}

// OnPhaseChange registers a hook called for every phase_change event,
// after the event itself has been forwarded.
func (in *Ingestor) OnPhaseChange(fn func(Event)) {
	in.phase = fn
}

// Drain polls every source once and forwards the results. It returns
// the number of events forwarded.
func (in *Ingestor) Drain(ctx context.Context) int {
	var forwarded int
	for _, src := range in.sources {
		events, err := src.Poll(ctx)
		if err != nil {
			in.logger.Warn("poll bridge source", zap.Error(err))
			continue
		}
		for _, ev := range events {
			if ev.Type == "" && ev.Message == "" {
				in.logger.Warn("drop empty bridge event")
				continue
			}
			persona, text := Thought(ev)
			target := persona
			if ev.Type == "phase_change" {
				// Phase changes concern everyone.
				target = ""
			}
			in.sink(cognition.ExternalEvent{
				Source:  "bridge",
				Type:    ev.Type,
				Persona: target,
				Text:    text,
			})
			forwarded++
			if ev.Type == "phase_change" && in.phase != nil {
				in.phase(ev)
			}
		}
	}
	return forwarded
}

// Run polls on the given interval until the context ends.
func (in *Ingestor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.Drain(ctx)
		}
	}
}
