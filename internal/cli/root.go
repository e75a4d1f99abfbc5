// Package cli wires configuration, the thread store, the platform channels
// and the relay engine together and runs the bridge.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slack-ghost/slack-ghost/internal/bus"
	"github.com/slack-ghost/slack-ghost/internal/channels"
	"github.com/slack-ghost/slack-ghost/internal/config"
	"github.com/slack-ghost/slack-ghost/internal/relay"
	"github.com/slack-ghost/slack-ghost/internal/store"
)

var rootCmd = &cobra.Command{
	Use:          "slack-ghost",
	Short:        "Relay Messenger conversations into Slack threads and back",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return err
	}

	engine, err := newEngine(cfg.Cache)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return err
	}
	defer engine.Close()
	threads := store.NewThreadCache(engine, cfg.Cache.TTL, cfg.Cache.ReverseIndex)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	msgBus := bus.NewMessageBus()
	slackCh := channels.NewSlackChannel(cfg.Slack, msgBus)
	messengerCh := channels.NewMessengerChannel(cfg.Messenger, msgBus, engine, cfg.Cache.TTL)
	relayEngine := relay.NewEngine(slackCh, threads, msgBus, relay.Options{
		OwnAppID:     cfg.Messenger.AppID,
		AppNames:     cfg.Messenger.AppNames,
		NotifyClosed: cfg.Cache.NotifyClosed,
	})

	// Channel resolution failure here is fatal: a missing channel means
	// misconfiguration, not a transient fault.
	if err := slackCh.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return err
	}
	if err := messengerCh.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return err
	}
	go func() {
		_ = msgBus.DispatchOutbound(ctx)
	}()

	err = relayEngine.Run(ctx)
	_ = messengerCh.Stop()
	_ = slackCh.Stop()
	if errors.Is(err, context.Canceled) {
		slog.Info("Shutting down")
		return nil
	}
	return err
}

// newEngine builds the configured thread-store backing engine.
func newEngine(cfg config.CacheConfig) (store.Engine, error) {
	switch cfg.Backend {
	case "redis":
		slog.Info("Using redis thread store", "url", cfg.RedisURL, "prefix", cfg.Prefix)
		return store.NewRedisEngine(cfg.RedisURL, cfg.Prefix)
	case "sqlite":
		slog.Info("Using sqlite thread store", "path", cfg.SQLitePath)
		return store.NewSQLiteEngine(cfg.SQLitePath)
	case "memory":
		slog.Warn("Using in-memory thread store, mappings will not survive restarts")
		return store.NewMemoryEngine(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
