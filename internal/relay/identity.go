package relay

import (
	"strings"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/store"
)

// Identity is the display identity presented on the Slack side for one
// inbound Messenger event. Derived per message, never persisted.
type Identity struct {
	Counterpart store.Counterpart
	DisplayName string
	AvatarURL   string
}

// resolveIdentity decides who the counterpart is and how to present them.
// The second return is false when the event is this bridge's own echo and
// must be dropped.
//
// An echo whose app id differs from ours is a different application
// genuinely messaging the same page: relay it under that application's
// configured name (or the raw app id), attributed to the conversation's
// user, which on an echo is the recipient.
func (e *Engine) resolveIdentity(msg *bus.InboundMessage) (Identity, bool) {
	if msg.IsEcho {
		if msg.AppID == e.ownAppID {
			return Identity{}, false
		}
		name := e.appNames[msg.AppID]
		if name == "" {
			name = msg.AppID
		}
		return Identity{
			Counterpart: store.Counterpart{SenderID: msg.RecipientID, PageID: msg.PageID},
			DisplayName: name,
		}, true
	}

	name := msg.SenderID
	avatar := ""
	if p := msg.Profile; p != nil {
		if full := strings.TrimSpace(p.FirstName + " " + p.LastName); full != "" {
			name = full
		}
		avatar = p.PictureURL
	}
	return Identity{
		Counterpart: store.Counterpart{SenderID: msg.SenderID, PageID: msg.PageID},
		DisplayName: name,
		AvatarURL:   avatar,
	}, true
}
