package gateway

import (
	"context"
	"time"
)

// Adapter defines the interface for platform adapters.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized operator message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Persona   string `json:"persona,omitempty"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// BroadcastType categorizes broadcast messages.
type BroadcastType string

const (
	BroadcastUtterance  BroadcastType = "utterance"
	BroadcastReflection BroadcastType = "reflection"
	BroadcastAlert      BroadcastType = "alert"
	BroadcastWorldEvent BroadcastType = "world_event"
)

// BroadcastMessage is sent to multiple platforms simultaneously.
type BroadcastMessage struct {
	Type      BroadcastType `json:"type"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Persona   string        `json:"persona,omitempty"`
	Platforms []string      `json:"platforms,omitempty"`
}

// AdapterStatus describes an adapter's connection state.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
