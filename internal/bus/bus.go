// Package bus provides the async event bus between platform channels and the
// relay engine.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channel names used as routing keys on the bus.
const (
	ChannelSlack     = "slack"
	ChannelMessenger = "messenger"
)

// Profile carries the Messenger sender profile attached to a session.
type Profile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	PictureURL string `json:"profile_pic"`
}

// InboundMessage is a normalized inbound event from either platform.
//
// Messenger events populate SenderID, RecipientID, PageID, the echo fields
// and Profile. Slack events populate SenderID, ChatID and ThreadID.
type InboundMessage struct {
	Channel     string    `json:"channel"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	PageID      string    `json:"page_id,omitempty"`
	AppID       string    `json:"app_id,omitempty"`
	IsEcho      bool      `json:"is_echo,omitempty"`
	ChatID      string    `json:"chat_id,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	Text        string    `json:"text"`
	Profile     *Profile  `json:"profile,omitempty"`
	TraceID     string    `json:"trace_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// OutboundMessage is a fire-and-forget delivery to one platform: a Messenger
// send addressed by page + recipient, or a Slack post into a thread.
type OutboundMessage struct {
	Channel     string `json:"channel"`
	PageID      string `json:"page_id,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	ChatID      string `json:"chat_id,omitempty"`
	ThreadID    string `json:"thread_id,omitempty"`
	Text        string `json:"text"`
	TraceID     string `json:"trace_id"`
}

// MessageBus decouples the platform channels from the relay engine.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends an event from a channel to the relay engine.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until an event is available or the context is
// cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound sends a delivery from the relay engine to a channel.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound deliveries to a channel.
func (b *MessageBus) Subscribe(channel string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channel] = append(b.subs[channel], callback)
}

// DispatchOutbound runs the outbound dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.Channel]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound events.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound deliveries.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
