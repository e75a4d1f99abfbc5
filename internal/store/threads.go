package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Key prefixes sharing one engine namespace. Forward thread keys are
// "<pageID>:<senderID>" with no prefix; page IDs are numeric so they can
// never collide with these.
const (
	threadKeyPrefix  = "thread:"
	SessionKeyPrefix = "session:"
)

// Counterpart identifies the Messenger user that owns a thread: the same
// person talking through two different pages gets two independent threads.
type Counterpart struct {
	SenderID string `json:"sender_id"`
	PageID   string `json:"page_id"`
}

// Key returns the forward lookup key for the counterpart.
func (c Counterpart) Key() string {
	return c.PageID + ":" + c.SenderID
}

// ThreadCache maps counterparts to Slack thread anchors on top of a backing
// Engine. With the reverse index enabled (the default) anchor-to-counterpart
// lookup is O(1); without it the cache falls back to scanning all live
// forward entries, which is acceptable only at small scale.
type ThreadCache struct {
	engine  Engine
	ttl     time.Duration
	reverse bool
}

// NewThreadCache creates a thread cache. A non-positive ttl falls back to
// DefaultTTL.
func NewThreadCache(engine Engine, ttl time.Duration, reverseIndex bool) *ThreadCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ThreadCache{engine: engine, ttl: ttl, reverse: reverseIndex}
}

// Anchor returns the live thread anchor for a counterpart, if any.
func (c *ThreadCache) Anchor(ctx context.Context, cp Counterpart) (string, bool, error) {
	return c.engine.Get(ctx, cp.Key())
}

// SaveMapping persists counterpart -> anchor and, when the reverse index is
// enabled, anchor -> counterpart. The forward key is written first so a
// concurrent reverse lookup at worst sees a miss, never a stale counterpart.
// Last write wins if two first messages race; the relay accepts that.
func (c *ThreadCache) SaveMapping(ctx context.Context, cp Counterpart, anchor string) error {
	if err := c.engine.Set(ctx, cp.Key(), anchor, c.ttl); err != nil {
		return err
	}
	if !c.reverse {
		return nil
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode reverse mapping: %w", err)
	}
	return c.engine.Set(ctx, threadKeyPrefix+anchor, string(raw), c.ttl)
}

// Counterpart resolves a thread anchor back to its owner. A miss means the
// thread expired or was never created by this bridge.
func (c *ThreadCache) Counterpart(ctx context.Context, anchor string) (Counterpart, bool, error) {
	if c.reverse {
		raw, ok, err := c.engine.Get(ctx, threadKeyPrefix+anchor)
		if err != nil || !ok {
			return Counterpart{}, false, err
		}
		var cp Counterpart
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return Counterpart{}, false, fmt.Errorf("decode reverse mapping: %w", err)
		}
		return cp, true, nil
	}
	return c.scanForAnchor(ctx, anchor)
}

// errFound short-circuits ForEach once a match is seen; a second entry with
// the same anchor would violate the uniqueness invariant but must not break
// the lookup, so first match wins.
var errFound = fmt.Errorf("found")

func (c *ThreadCache) scanForAnchor(ctx context.Context, anchor string) (Counterpart, bool, error) {
	var match Counterpart
	err := c.engine.ForEach(ctx, func(key, value string) error {
		if strings.HasPrefix(key, threadKeyPrefix) || strings.HasPrefix(key, SessionKeyPrefix) {
			return nil
		}
		if value != anchor {
			return nil
		}
		pageID, senderID, ok := strings.Cut(key, ":")
		if !ok {
			return nil
		}
		match = Counterpart{SenderID: senderID, PageID: pageID}
		return errFound
	})
	if err == errFound {
		return match, true, nil
	}
	if err != nil {
		return Counterpart{}, false, err
	}
	return Counterpart{}, false, nil
}

// TTL reports the entry lifetime the cache writes with.
func (c *ThreadCache) TTL() time.Duration {
	return c.ttl
}
