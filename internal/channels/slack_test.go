package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/config"
	"github.com/slack-ghost/slack-ghost/internal/relay"
)

func newTestSlack(t *testing.T, handler http.Handler) (*SlackChannel, *bus.MessageBus) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b := bus.NewMessageBus()
	c := NewSlackChannel(config.SlackConfig{
		BotToken: "xoxb-test",
		AppToken: "xapp-test",
		Channel:  "#support",
		APIBase:  srv.URL,
	}, b)
	return c, b
}

type conversationStub struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func writeConversations(w http.ResponseWriter, cursor string, chs ...conversationStub) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":       true,
		"channels": chs,
		"response_metadata": map[string]string{
			"next_cursor": cursor,
		},
	})
}

func TestResolveChannelStripsHash(t *testing.T) {
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations.list" {
			t.Errorf("unexpected call %s", r.URL.Path)
		}
		writeConversations(w, "", conversationStub{ID: "C42", Name: "support"})
	}))

	id, err := c.ResolveChannel(context.Background(), "#support")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "C42" {
		t.Fatalf("id = %q", id)
	}
}

func TestResolveChannelPaginates(t *testing.T) {
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.Form.Get("cursor") == "" {
			writeConversations(w, "page-2", conversationStub{ID: "C1", Name: "general"})
			return
		}
		writeConversations(w, "", conversationStub{ID: "C2", Name: "support"})
	}))

	id, err := c.ResolveChannel(context.Background(), "support")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "C2" {
		t.Fatalf("id = %q", id)
	}
}

func TestResolveChannelFallsBackToPrivate(t *testing.T) {
	var sawTypes []string
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		types := r.Form.Get("types")
		sawTypes = append(sawTypes, types)
		if types == "private_channel" {
			writeConversations(w, "", conversationStub{ID: "G7", Name: "vip-support"})
			return
		}
		writeConversations(w, "")
	}))

	id, err := c.ResolveChannel(context.Background(), "vip-support")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != "G7" {
		t.Fatalf("id = %q", id)
	}
	if len(sawTypes) != 2 || sawTypes[0] != "public_channel" || sawTypes[1] != "private_channel" {
		t.Fatalf("lookup order = %v", sawTypes)
	}
}

func TestResolveChannelNotFound(t *testing.T) {
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeConversations(w, "", conversationStub{ID: "C1", Name: "general"})
	}))

	_, err := c.ResolveChannel(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), `"missing" not found`) {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveChannelEmptyName(t *testing.T) {
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no api call expected")
	}))

	if _, err := c.ResolveChannel(context.Background(), "#"); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestPostThreadsAndReturnsAnchor(t *testing.T) {
	var gotThreadTS, gotUsername, gotIcon string
	c, _ := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat.postMessage" {
			t.Errorf("unexpected call %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotThreadTS = r.Form.Get("thread_ts")
		gotUsername = r.Form.Get("username")
		gotIcon = r.Form.Get("icon_url")
		fmt.Fprint(w, `{"ok":true,"channel":"C42","ts":"100.001"}`)
	}))
	c.channelID = "C42"

	ts, err := c.Post(context.Background(), relay.ChatPost{
		Text:         "hi",
		Username:     "Ada Lovelace",
		IconURL:      "https://pics/ada.png",
		ThreadAnchor: "99.000",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if ts != "100.001" {
		t.Fatalf("ts = %q", ts)
	}
	if gotThreadTS != "99.000" || gotUsername != "Ada Lovelace" || gotIcon != "https://pics/ada.png" {
		t.Fatalf("post params thread=%q user=%q icon=%q", gotThreadTS, gotUsername, gotIcon)
	}
}

func TestHandleMessageEventFilters(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ev    slackevents.MessageEvent
		relay bool
	}{
		{"threaded human reply",
			slackevents.MessageEvent{User: "W1", Channel: "C42", ThreadTimeStamp: "100.001", Text: "hi"}, true},
		{"bot message",
			slackevents.MessageEvent{BotID: "B1", Channel: "C42", ThreadTimeStamp: "100.001", Text: "ghost"}, false},
		{"bot_message subtype",
			slackevents.MessageEvent{SubType: "bot_message", Channel: "C42", ThreadTimeStamp: "100.001"}, false},
		{"unthreaded",
			slackevents.MessageEvent{User: "W1", Channel: "C42", Text: "top level"}, false},
		{"other channel",
			slackevents.MessageEvent{User: "W1", Channel: "C99", ThreadTimeStamp: "100.001"}, false},
		{"no user",
			slackevents.MessageEvent{Channel: "C42", ThreadTimeStamp: "100.001"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, b := newTestSlack(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
			c.channelID = "C42"

			ev := tc.ev
			c.handleMessageEvent(&ev)
			if got := b.InboundSize() == 1; got != tc.relay {
				t.Fatalf("relayed = %v, want %v", got, tc.relay)
			}
			if tc.relay {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				msg, err := b.ConsumeInbound(ctx)
				if err != nil {
					t.Fatalf("consume: %v", err)
				}
				if msg.SenderID != "W1" || msg.ThreadID != "100.001" || msg.ChatID != "C42" {
					t.Fatalf("event = %+v", msg)
				}
			}
		})
	}
}
