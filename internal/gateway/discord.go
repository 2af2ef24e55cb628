package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter implements Adapter for Discord using the bot gateway.
type DiscordAdapter struct {
	token    string
	session  *discordgo.Session
	handler  MessageHandler
	personas map[string]*PersonaStyle // persona name -> style
	webhooks map[string]string        // channelID -> webhook URL for persona messages

	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		personas: make(map[string]*PersonaStyle),
		webhooks: make(map[string]string),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// SetPersona registers a persona's display style for Discord messages.
func (a *DiscordAdapter) SetPersona(name string, style *PersonaStyle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[name] = style
}

// SetWebhook registers a webhook URL for a channel to enable persona messages.
func (a *DiscordAdapter) SetWebhook(channelID, webhookURL string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.webhooks[channelID] = webhookURL
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("session create: %v", err)
		a.mu.Unlock()
		return fmt.Errorf("discord session: %w", err)
	}
	a.session = session

	a.session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("open failed: %v", err)
		a.connected = false
		a.mu.Unlock()
		return fmt.Errorf("discord open: %w", err)
	}

	now := time.Now()
	a.mu.Lock()
	a.connected = true
	a.connectedAt = now
	a.lastError = ""
	a.mu.Unlock()

	guildCount := len(a.session.State.Guilds)
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server, invite it first")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore messages from the bot itself
	if m.Author.ID == s.State.User.ID {
		return
	}
	if a.handler == nil {
		return
	}
	a.handler(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ChannelID,
	})
}

// Send posts a message to a Discord channel. If a webhook is configured
// for the channel, the message appears under the persona's name and
// avatar.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	webhookURL := a.webhooks[msg.ChannelID]
	style := a.personas[msg.Persona]
	a.mu.RUnlock()

	if webhookURL != "" && msg.Persona != "" {
		return a.sendViaWebhook(webhookURL, msg.Persona, style, msg.Content)
	}

	content := msg.Content
	if msg.Persona != "" {
		content = fmt.Sprintf("**[%s]** %s", msg.Persona, msg.Content)
	}
	if _, err := a.session.ChannelMessageSend(msg.ChannelID, content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) sendViaWebhook(webhookURL, persona string, style *PersonaStyle, content string) error {
	webhook, err := a.session.WebhookWithToken(webhookURL, "")
	if err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}

	params := &discordgo.WebhookParams{
		Content:  content,
		Username: persona,
	}
	if style != nil && style.IconURL != "" {
		params.AvatarURL = style.IconURL
	}
	if _, err := a.session.WebhookExecute(webhook.ID, webhook.Token, false, params); err != nil {
		return fmt.Errorf("discord webhook execute: %w", err)
	}
	return nil
}

// Broadcast sends a broadcast message to the first writable text channel
// of every guild the bot is in.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	content := fmt.Sprintf("**[%s] %s**\n%s", msg.Type, msg.Title, msg.Content)

	for _, guild := range a.session.State.Guilds {
		channels, err := a.session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed",
				zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText {
				if _, err := a.session.ChannelMessageSend(ch.ID, content); err == nil {
					break
				}
			}
		}
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	if a.session != nil {
		return a.session.Close()
	}
	return nil
}

// Status describes the adapter's connection state.
func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{
		Platform:  "discord",
		Connected: a.connected,
		Error:     a.lastError,
	}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		guildCount := 0
		if a.session != nil && a.session.State != nil {
			guildCount = len(a.session.State.Guilds)
		}
		s.Details = fmt.Sprintf("bot=%s, guilds=%d",
			a.session.State.User.Username, guildCount)
	}
	return s
}
