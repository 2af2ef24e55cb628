package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// PersonaStyle defines how a persona appears on chat platforms.
type PersonaStyle struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"`
}

// SlackAdapter implements Adapter for Slack using Socket Mode. Persona
// utterances post under the persona's own name and icon.
type SlackAdapter struct {
	client   *slack.Client
	socket   *socketmode.Client
	handler  MessageHandler
	personas map[string]*PersonaStyle // persona name -> style
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)
	return &SlackAdapter{
		client:   client,
		socket:   socket,
		personas: make(map[string]*PersonaStyle),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers a persona's display style for Slack messages.
func (a *SlackAdapter) SetPersona(name string, style *PersonaStyle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[name] = style
}

// Connect starts the Socket Mode event loop in a background goroutine.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil {
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	a.logger.Info("slack adapter connected via socket mode")
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type == slackevents.CallbackEvent {
			switch inner := eventsAPI.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				// Ignore bot messages to avoid loops
				if inner.BotID != "" {
					return
				}
				a.handleSlackMessage(inner)
			}
		}
	}
}

func (a *SlackAdapter) handleSlackMessage(ev *slackevents.MessageEvent) {
	if a.handler == nil {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   ev.Text,
		Timestamp: time.Now(),
		ReplyTo:   ev.TimeStamp,
	})
}

// Send posts a message to a Slack channel with persona styling.
func (a *SlackAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.personaOpts(msg.Persona)...)

	_, _, err := a.client.PostMessage(msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) personaOpts(persona string) []slack.MsgOption {
	if persona == "" {
		return nil
	}
	a.mu.RLock()
	style, ok := a.personas[persona]
	a.mu.RUnlock()

	opts := []slack.MsgOption{slack.MsgOptionUsername(persona)}
	if !ok {
		return opts
	}
	if style.Name != "" {
		opts[0] = slack.MsgOptionUsername(style.Name)
	}
	if style.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(style.IconURL))
	} else if style.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(style.Emoji))
	}
	return opts
}

// Broadcast sends a broadcast message to all channels the bot is in.
func (a *SlackAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	text := fmt.Sprintf("*[%s] %s*\n%s", msg.Type, msg.Title, msg.Content)

	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	opts = append(opts, a.personaOpts(msg.Persona)...)

	params := &slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	}
	channels, _, err := a.client.GetConversationsForUser(params)
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}
	for _, ch := range channels {
		if _, _, err := a.client.PostMessage(ch.ID, opts...); err != nil {
			a.logger.Warn("slack broadcast to channel failed",
				zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

// Close is a no-op; the socket context cancellation handles shutdown.
func (a *SlackAdapter) Close() error {
	return nil
}
