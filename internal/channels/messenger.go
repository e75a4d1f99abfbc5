package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/config"
	"github.com/slack-ghost/slack-ghost/internal/store"
)

// thumbsupStickerID is the Messenger like-button sticker; it relays as the
// native Slack thumbsup emoji instead of a sticker image URL.
const thumbsupStickerID = 369239263222822

// MessengerChannel is the messenger-bot connection: a webhook server for
// inbound user events and a Graph API client for outbound sends and profile
// lookups. Sender profiles are cached in the thread store engine under
// session keys so repeat messages skip the profile round-trip.
type MessengerChannel struct {
	cfg      config.MessengerConfig
	bus      *bus.MessageBus
	sessions store.Engine
	ttl      time.Duration
	client   *http.Client
	server   *http.Server
}

// NewMessengerChannel creates the Messenger adapter. sessions is the shared
// store engine used for profile caching.
func NewMessengerChannel(cfg config.MessengerConfig, messageBus *bus.MessageBus, sessions store.Engine, ttl time.Duration) *MessengerChannel {
	if ttl <= 0 {
		ttl = store.DefaultTTL
	}
	return &MessengerChannel{
		cfg:      cfg,
		bus:      messageBus,
		sessions: sessions,
		ttl:      ttl,
		client:   &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *MessengerChannel) Name() string { return bus.ChannelMessenger }

// Start subscribes for outbound deliveries and serves the webhook endpoint.
func (c *MessengerChannel) Start(ctx context.Context) error {
	c.bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		if err := c.Send(ctx, msg.PageID, msg.RecipientID, msg.Text); err != nil {
			slog.Error("Messenger delivery failed, message lost",
				"page_id", msg.PageID, "recipient", msg.RecipientID, "trace_id", msg.TraceID, "error", err)
		}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", c.handleWebhook)
	c.server = &http.Server{Addr: c.cfg.ListenAddr, Handler: mux}
	go func() {
		slog.Info("Messenger webhook listening", "addr", c.cfg.ListenAddr)
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Messenger webhook server failed", "error", err)
		}
	}()
	return nil
}

func (c *MessengerChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.server.Shutdown(ctx)
}

// Send delivers text to a user through the page they talked to.
func (c *MessengerChannel) Send(ctx context.Context, pageID, recipientID, text string) error {
	token := c.cfg.PageTokens[pageID]
	if token == "" {
		return fmt.Errorf("no access token configured for page %s", pageID)
	}
	body, _ := json.Marshal(map[string]any{
		"recipient": map[string]string{"id": recipientID},
		"message":   map[string]string{"text": text},
	})
	endpoint := strings.TrimRight(c.cfg.GraphBase, "/") + "/me/messages?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("messenger send status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// Webhook payload shapes, trimmed to the fields the relay consumes.

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string           `json:"id"`
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender    struct{ ID string `json:"id"` } `json:"sender"`
	Recipient struct{ ID string `json:"id"` } `json:"recipient"`
	Message   *struct {
		Text        string      `json:"text"`
		IsEcho      bool        `json:"is_echo"`
		AppID       json.Number `json:"app_id"`
		StickerID   int64       `json:"sticker_id"`
		Attachments []struct {
			Type    string `json:"type"`
			Title   string `json:"title"`
			Payload struct {
				URL       string `json:"url"`
				StickerID int64  `json:"sticker_id"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

func (c *MessengerChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleVerify(w, r)
	case http.MethodPost:
		c.handleEvents(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's subscription handshake.
func (c *MessengerChannel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == c.cfg.VerifyToken {
		fmt.Fprint(w, q.Get("hub.challenge"))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

func (c *MessengerChannel) handleEvents(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if payload.Object != "page" {
		w.WriteHeader(http.StatusOK)
		return
	}
	for _, entry := range payload.Entry {
		for _, ev := range entry.Messaging {
			c.handleMessaging(r.Context(), entry.ID, ev)
		}
	}
	fmt.Fprint(w, "EVENT_RECEIVED")
}

// handleMessaging normalizes one messaging event onto the bus. Delivery and
// read receipts carry no message and are dropped here.
func (c *MessengerChannel) handleMessaging(ctx context.Context, pageID string, ev messagingEvent) {
	if ev.Message == nil {
		return
	}
	text, ok := relayText(ev)
	if !ok {
		return
	}

	msg := &bus.InboundMessage{
		Channel:     c.Name(),
		SenderID:    ev.Sender.ID,
		RecipientID: ev.Recipient.ID,
		PageID:      pageID,
		AppID:       ev.Message.AppID.String(),
		IsEcho:      ev.Message.IsEcho,
		Text:        text,
	}
	if !ev.Message.IsEcho {
		msg.Profile = c.profile(ctx, pageID, ev.Sender.ID)
	}
	c.bus.PublishInbound(msg)
}

// relayText flattens the typed Messenger events to the text relayed into
// Slack: plain text as-is, images and stickers by URL, the thumbsup sticker
// as the native Slack emoji, template echoes by attachment title.
func relayText(ev messagingEvent) (string, bool) {
	m := ev.Message
	if m.Text != "" {
		return m.Text, true
	}
	for _, att := range m.Attachments {
		switch att.Type {
		case "image":
			if att.Payload.StickerID == thumbsupStickerID || m.StickerID == thumbsupStickerID {
				return ":thumbsup:", true
			}
			if att.Payload.URL != "" {
				return att.Payload.URL, true
			}
		case "template":
			if att.Title != "" {
				return att.Title, true
			}
		}
	}
	return "", false
}

// profile returns the sender's cached profile, fetching it from the Graph
// API on a miss. Failures degrade to a nil profile; the message still
// relays under the raw sender id.
func (c *MessengerChannel) profile(ctx context.Context, pageID, senderID string) *bus.Profile {
	key := store.SessionKeyPrefix + senderID
	if raw, ok, err := c.sessions.Get(ctx, key); err == nil && ok {
		var p bus.Profile
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return &p
		}
	} else if err != nil {
		slog.Warn("Session cache read failed", "sender", senderID, "error", err)
	}

	p, err := c.fetchProfile(ctx, pageID, senderID)
	if err != nil {
		slog.Warn("Profile fetch failed", "sender", senderID, "error", err)
		return nil
	}
	raw, _ := json.Marshal(p)
	if err := c.sessions.Set(ctx, key, string(raw), c.ttl); err != nil {
		slog.Warn("Session cache write failed", "sender", senderID, "error", err)
	}
	return p
}

func (c *MessengerChannel) fetchProfile(ctx context.Context, pageID, senderID string) (*bus.Profile, error) {
	token := c.cfg.PageTokens[pageID]
	if token == "" {
		return nil, fmt.Errorf("no access token configured for page %s", pageID)
	}
	endpoint := fmt.Sprintf("%s/%s?fields=first_name,last_name,profile_pic&access_token=%s",
		strings.TrimRight(c.cfg.GraphBase, "/"), url.PathEscape(senderID), url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile status %d", resp.StatusCode)
	}
	var p bus.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}
