package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tomyimkc/generative-agents/internal/cognition"
	"github.com/tomyimkc/generative-agents/internal/sim"
	"github.com/tomyimkc/generative-agents/internal/store"
)

// Notifier connects the gateway to a running simulation: committed
// frames become platform broadcasts, and operator messages become
// whispers injected into agent memory.
type Notifier struct {
	gateway *Gateway
	sched   *sim.Scheduler
	logger  *zap.Logger
}

// NewNotifier wires the notifier into both sides and returns it.
func NewNotifier(gw *Gateway, sched *sim.Scheduler, logger *zap.Logger) *Notifier {
	n := &Notifier{gateway: gw, sched: sched, logger: logger}
	sched.OnFrame(n.onFrame)
	gw.SetHandler(n.onInbound)
	return n
}

// onFrame forwards the tick's utterances and injected events.
func (n *Notifier) onFrame(frame store.Frame) {
	ctx := context.Background()
	for name, af := range frame.Agents {
		if af.Said == "" {
			continue
		}
		msg := &BroadcastMessage{
			Type:    BroadcastUtterance,
			Title:   name,
			Content: af.Said,
			Persona: name,
		}
		if err := n.gateway.Broadcast(ctx, msg); err != nil {
			n.logger.Warn("utterance broadcast failed",
				zap.String("persona", name), zap.Error(err))
		}
	}
	for _, text := range frame.Events {
		msg := &BroadcastMessage{
			Type:    BroadcastWorldEvent,
			Title:   fmt.Sprintf("tick %d", frame.Tick),
			Content: text,
		}
		if err := n.gateway.Broadcast(ctx, msg); err != nil {
			n.logger.Warn("event broadcast failed", zap.Error(err))
		}
	}
}

// onInbound interprets operator messages. Supported forms:
//
//	whisper <persona>: <text>   inject a thought into one agent
//	announce: <text>            inject a thought into every agent
//	status                      report tick and roster
func (n *Notifier) onInbound(msg *InboundMessage) {
	content := strings.TrimSpace(msg.Content)
	lower := strings.ToLower(content)
	ctx := context.Background()

	switch {
	case strings.HasPrefix(lower, "whisper "):
		rest := content[len("whisper "):]
		name, text, ok := strings.Cut(rest, ":")
		if !ok {
			n.reply(ctx, msg, "usage: whisper <persona>: <text>")
			return
		}
		name = strings.TrimSpace(name)
		text = strings.TrimSpace(text)
		if _, found := n.sched.AgentByName(name); !found {
			n.reply(ctx, msg, fmt.Sprintf("no persona named %q", name))
			return
		}
		n.sched.Inject(cognition.ExternalEvent{
			Source:  "whisper",
			Type:    "whisper",
			Persona: name,
			Text:    text,
		})
		n.logger.Info("whisper queued",
			zap.String("persona", name),
			zap.String("operator", msg.UserName))
		n.reply(ctx, msg, fmt.Sprintf("whispered to %s", name))

	case strings.HasPrefix(lower, "announce:"):
		text := strings.TrimSpace(content[len("announce:"):])
		n.sched.Inject(cognition.ExternalEvent{
			Source: "whisper",
			Type:   "announcement",
			Text:   text,
		})
		n.reply(ctx, msg, "announced to everyone")

	case lower == "status":
		var names []string
		for _, a := range n.sched.Agents() {
			names = append(names, a.Persona.Name)
		}
		n.reply(ctx, msg, fmt.Sprintf("tick %d, %d agents: %s",
			n.sched.Tick(), len(names), strings.Join(names, ", ")))
	}
}

func (n *Notifier) reply(ctx context.Context, to *InboundMessage, text string) {
	err := n.gateway.Send(ctx, &OutboundMessage{
		Platform:  to.Platform,
		ChannelID: to.ChannelID,
		Content:   text,
		ReplyTo:   to.ReplyTo,
	})
	if err != nil {
		n.logger.Warn("gateway reply failed", zap.Error(err))
	}
}
