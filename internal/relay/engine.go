package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/store"
)

// closedNotice is posted back into a thread whose mapping has expired, so
// the Slack side knows the visitor can no longer see replies.
const closedNotice = "This conversation has expired; replies here are no longer delivered."

// ChatPost is one outbound Slack post with its ghost identity overrides.
// An empty ThreadAnchor creates a new top-level message whose returned
// anchor starts the thread.
type ChatPost struct {
	Text         string
	Username     string
	IconURL      string
	ThreadAnchor string
}

// ChatPoster is the chat-platform collaborator the engine posts through.
type ChatPoster interface {
	Post(ctx context.Context, post ChatPost) (anchor string, err error)
}

// Options configure the relay engine.
type Options struct {
	// OwnAppID is this bridge's Messenger application id, used to tell
	// self-echoes from foreign-application traffic.
	OwnAppID string
	// AppNames maps foreign application ids to display names.
	AppNames map[string]string
	// NotifyClosed posts a visible notice into threads whose mapping
	// expired instead of dropping replies silently.
	NotifyClosed bool
}

// Engine is the thread-correlation and message-relay state machine. The
// thread store is the single source of truth for mappings; the engine holds
// no private copy, so correlation survives restarts.
type Engine struct {
	poster   ChatPoster
	threads  *store.ThreadCache
	msgBus   *bus.MessageBus
	ownAppID string
	appNames map[string]string
	notify   bool
}

// NewEngine creates a relay engine.
func NewEngine(poster ChatPoster, threads *store.ThreadCache, msgBus *bus.MessageBus, opts Options) *Engine {
	appNames := opts.AppNames
	if appNames == nil {
		appNames = map[string]string{}
	}
	return &Engine{
		poster:   poster,
		threads:  threads,
		msgBus:   msgBus,
		ownAppID: opts.OwnAppID,
		appNames: appNames,
		notify:   opts.NotifyClosed,
	}
}

// Run consumes inbound events until the context is cancelled. Each event is
// handled in its own goroutine: one counterpart's slow post never stalls
// another's.
func (e *Engine) Run(ctx context.Context) error {
	for {
		msg, err := e.msgBus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		go e.Handle(ctx, msg)
	}
}

// Handle relays one inbound event. Failures are isolated to the event and
// logged; nothing here crashes the process or retries.
func (e *Engine) Handle(ctx context.Context, msg *bus.InboundMessage) {
	var err error
	switch msg.Channel {
	case bus.ChannelMessenger:
		err = e.handleMessenger(ctx, msg)
	case bus.ChannelSlack:
		err = e.handleSlack(ctx, msg)
	default:
		slog.Warn("Relay dropped event from unknown channel", "channel", msg.Channel, "trace_id", msg.TraceID)
		return
	}
	if err != nil {
		slog.Error("Relay failed", "channel", msg.Channel, "trace_id", msg.TraceID, "error", err)
	}
}

// handleMessenger relays human -> Slack. Only the first message from a
// counterpart allocates a thread; later ones reuse the stored anchor and
// never rewrite the mapping. Two concurrent first messages may both post
// top-level; the later mapping write wins and replies self-heal onto it.
func (e *Engine) handleMessenger(ctx context.Context, msg *bus.InboundMessage) error {
	id, relayable := e.resolveIdentity(msg)
	if !relayable {
		slog.Debug("Ignoring echo of own message", "app_id", msg.AppID, "trace_id", msg.TraceID)
		return nil
	}

	anchor, threaded, err := e.threads.Anchor(ctx, id.Counterpart)
	if err != nil {
		// Degrade to an unthreaded post rather than losing the message.
		slog.Warn("Thread lookup failed, relaying without continuity",
			"counterpart", id.Counterpart.Key(), "trace_id", msg.TraceID, "error", err)
		anchor, threaded = "", false
	}

	newAnchor, err := e.poster.Post(ctx, ChatPost{
		Text:         msg.Text,
		Username:     id.DisplayName,
		IconURL:      id.AvatarURL,
		ThreadAnchor: anchor,
	})
	if err != nil {
		return fmt.Errorf("post to chat platform: %w", err)
	}

	if !threaded {
		if err := e.threads.SaveMapping(ctx, id.Counterpart, newAnchor); err != nil {
			slog.Warn("Thread mapping not persisted, next message starts a new thread",
				"counterpart", id.Counterpart.Key(), "anchor", newAnchor, "trace_id", msg.TraceID, "error", err)
		} else {
			slog.Debug("Thread created", "counterpart", id.Counterpart.Key(), "anchor", newAnchor)
		}
	}
	return nil
}

// handleSlack relays a threaded Slack reply back to its Messenger
// counterpart. Replies outside a thread, or from non-human senders, have no
// counterpart and are ignored upstream by the channel.
func (e *Engine) handleSlack(ctx context.Context, msg *bus.InboundMessage) error {
	if msg.ThreadID == "" || msg.SenderID == "" {
		return nil
	}

	cp, ok, err := e.threads.Counterpart(ctx, msg.ThreadID)
	if err != nil {
		return fmt.Errorf("reverse lookup %s: %w", msg.ThreadID, err)
	}
	if !ok {
		slog.Info("Reply dropped", "anchor", msg.ThreadID, "trace_id", msg.TraceID, "reason", ErrCorrelationMiss)
		if e.notify {
			e.msgBus.PublishOutbound(&bus.OutboundMessage{
				Channel:  bus.ChannelSlack,
				ChatID:   msg.ChatID,
				ThreadID: msg.ThreadID,
				Text:     closedNotice,
				TraceID:  msg.TraceID,
			})
		}
		return nil
	}

	e.msgBus.PublishOutbound(&bus.OutboundMessage{
		Channel:     bus.ChannelMessenger,
		PageID:      cp.PageID,
		RecipientID: cp.SenderID,
		Text:        msg.Text,
		TraceID:     msg.TraceID,
	})
	return nil
}
