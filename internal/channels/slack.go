package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/config"
	"github.com/slack-ghost/slack-ghost/internal/relay"
)

// SlackChannel is the chat-platform connection: a socket-mode event loop for
// inbound thread replies and a web-API poster for outbound ghost messages.
type SlackChannel struct {
	cfg  config.SlackConfig
	api  *slack.Client
	sock *socketmode.Client
	bus  *bus.MessageBus

	// channelID is the configured relay channel, resolved once at startup
	// and immutable for the process lifetime.
	channelID string
}

// NewSlackChannel creates the Slack adapter.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if base := strings.TrimSpace(cfg.APIBase); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	return &SlackChannel{
		cfg: cfg,
		api: slack.New(cfg.BotToken, opts...),
		bus: messageBus,
	}
}

func (c *SlackChannel) Name() string { return bus.ChannelSlack }

// Start authenticates, resolves the configured channel name and starts the
// socket-mode loop. A channel that does not resolve is a configuration
// error: the returned error is fatal, there is no retry.
func (c *SlackChannel) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}

	channelID, err := c.ResolveChannel(ctx, c.cfg.Channel)
	if err != nil {
		return err
	}
	c.channelID = channelID
	color.Green("Connected to %s as %s", auth.Team, auth.User)
	slog.Info("Slack channel resolved", "channel", c.cfg.Channel, "channel_id", channelID)

	c.bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if _, err := c.Post(ctx, relay.ChatPost{Text: msg.Text, ThreadAnchor: msg.ThreadID}); err != nil {
			slog.Error("Slack delivery failed, message lost", "thread", msg.ThreadID, "trace_id", msg.TraceID, "error", err)
		}
	})

	c.sock = socketmode.New(c.api)
	go c.runSocketLoop(ctx)
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

// Post sends one message to the relay channel with the ghost identity
// overrides, threading it under the anchor when set. The web API is used
// because only it can override username/icon and address threads. Returns
// the platform timestamp of the created message, the anchor for any new
// thread.
func (c *SlackChannel) Post(ctx context.Context, post relay.ChatPost) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(post.Text, false)}
	if post.Username != "" {
		opts = append(opts, slack.MsgOptionUsername(post.Username))
	}
	if post.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(post.IconURL))
	}
	if ts := strings.TrimSpace(post.ThreadAnchor); ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	_, ts, err := c.api.PostMessageContext(ctx, c.channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	return ts, nil
}

// ResolveChannel maps a channel name (optionally "#"-prefixed) to its ID,
// checking public channels first and private groups second.
func (c *SlackChannel) ResolveChannel(ctx context.Context, name string) (string, error) {
	needle := strings.TrimPrefix(strings.TrimSpace(name), "#")
	if needle == "" {
		return "", fmt.Errorf("empty slack channel name")
	}
	for _, types := range [][]string{{"public_channel"}, {"private_channel"}} {
		cursor := ""
		for {
			chs, next, err := c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
				Cursor: cursor,
				Limit:  200,
				Types:  types,
			})
			if err != nil {
				return "", fmt.Errorf("resolve channel %q: %w", needle, err)
			}
			for _, ch := range chs {
				if ch.Name == needle {
					return ch.ID, nil
				}
			}
			cursor = strings.TrimSpace(next)
			if cursor == "" {
				break
			}
		}
	}
	return "", fmt.Errorf("channel %q not found among public channels or private groups", needle)
}

func (c *SlackChannel) runSocketLoop(ctx context.Context) {
	go func() {
		for evt := range c.sock.Events {
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				c.sock.Ack(*evt.Request)
			}
			ev, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || ev.Type != slackevents.CallbackEvent {
				continue
			}
			if in, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok && in != nil {
				c.handleMessageEvent(in)
			}
		}
	}()
	if err := c.sock.RunContext(ctx); err != nil && ctx.Err() == nil {
		slog.Error("Slack socket loop ended", "error", err)
	}
}

// handleMessageEvent forwards threaded human replies from the relay channel
// to the bus. Bot messages are this bridge's own ghost posts echoed back and
// must never loop; unthreaded messages have no counterpart.
func (c *SlackChannel) handleMessageEvent(ev *slackevents.MessageEvent) {
	if ev.BotID != "" || ev.SubType == "bot_message" {
		return
	}
	if ev.ThreadTimeStamp == "" || ev.User == "" {
		return
	}
	if ev.Channel != c.channelID {
		return
	}
	c.bus.PublishInbound(&bus.InboundMessage{
		Channel:  c.Name(),
		SenderID: ev.User,
		ChatID:   ev.Channel,
		ThreadID: ev.ThreadTimeStamp,
		Text:     ev.Text,
	})
}
