// Package channels implements the two platform adapters: the Slack
// connection and the Messenger webhook/send connection.
package channels

import "context"

// Channel is the lifecycle contract both platform adapters implement.
type Channel interface {
	// Name returns the channel name ("slack" or "messenger").
	Name() string
	// Start opens the connection and begins delivering events to the bus.
	Start(ctx context.Context) error
	// Stop closes the connection.
	Stop() error
}
