// Package store implements the persistent thread store: a small key-value
// cache contract with per-entry TTL, pluggable backing engines, and the
// thread-mapping cache layered on top.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks a backing-engine transport failure. A plain cache
// miss is never an error.
var ErrUnavailable = errors.New("thread store unavailable")

// DefaultTTL bounds how long a thread mapping stays live. A week closes
// stale conversations without any explicit delete path.
const DefaultTTL = 7 * 24 * time.Hour

// Engine is the pluggable key-value backend. Get reports a miss as
// ("", false, nil); only transport failures return an error, wrapped in
// ErrUnavailable. ForEach visits live entries only.
type Engine interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	ForEach(ctx context.Context, fn func(key, value string) error) error
	Close() error
}
