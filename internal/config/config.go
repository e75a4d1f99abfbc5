// Package config provides configuration types and loading for slack-ghost.
// Everything comes from the environment under the SLACK_GHOST_* prefixes;
// there is no config file and no flags.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct.
type Config struct {
	Slack     SlackConfig
	Messenger MessengerConfig
	Cache     CacheConfig
}

// SlackConfig configures the chat-platform connection.
type SlackConfig struct {
	BotToken string `envconfig:"BOT_TOKEN"`
	AppToken string `envconfig:"APP_TOKEN"`
	// Channel is the single channel or private group everything relays
	// into. A leading "#" is accepted and stripped at resolution time.
	Channel string `envconfig:"CHANNEL"`
	APIBase string `envconfig:"API_BASE"`
}

// MessengerConfig configures the messenger-bot connection.
type MessengerConfig struct {
	// AppID is this bridge's own application id, used for self-echo
	// detection.
	AppID       string `envconfig:"APP_ID"`
	VerifyToken string `envconfig:"VERIFY_TOKEN"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8080"`
	GraphBase   string `envconfig:"GRAPH_BASE" default:"https://graph.facebook.com/v2.6"`
	// Pages is a JSON object mapping page id to page access token.
	Pages string `envconfig:"PAGES"`
	// Apps is an optional JSON object mapping foreign application ids to
	// the display name their messages relay under.
	Apps string `envconfig:"APPS"`

	// Parsed forms of Pages and Apps.
	PageTokens map[string]string `envconfig:"-" json:"-"`
	AppNames   map[string]string `envconfig:"-" json:"-"`
}

// CacheConfig configures the thread store.
type CacheConfig struct {
	// Backend selects the engine: "redis", "sqlite" or "memory".
	Backend    string `envconfig:"BACKEND" default:"redis"`
	RedisURL   string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"slack-ghost.db"`
	// Prefix namespaces all keys; defaults to the Messenger app id.
	Prefix string        `envconfig:"PREFIX"`
	TTL    time.Duration `envconfig:"TTL" default:"168h"`
	// ReverseIndex keeps thread->counterpart keys for O(1) reply routing.
	// Off, reply routing scans all live mappings.
	ReverseIndex bool `envconfig:"REVERSE_INDEX" default:"true"`
	// NotifyClosed posts a notice into threads whose mapping expired.
	NotifyClosed bool `envconfig:"NOTIFY_CLOSED"`
}

// Load reads configuration from the environment and validates it. Any error
// here is fatal: misconfiguration is an operator problem, not a runtime one.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("SLACK_GHOST_SLACK", &cfg.Slack); err != nil {
		return nil, fmt.Errorf("slack config: %w", err)
	}
	if err := envconfig.Process("SLACK_GHOST_MESSENGER", &cfg.Messenger); err != nil {
		return nil, fmt.Errorf("messenger config: %w", err)
	}
	if err := envconfig.Process("SLACK_GHOST_CACHE", &cfg.Cache); err != nil {
		return nil, fmt.Errorf("cache config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) finish() error {
	if cfg.Slack.BotToken == "" {
		return fmt.Errorf("SLACK_GHOST_SLACK_BOT_TOKEN is required")
	}
	if cfg.Slack.AppToken == "" {
		return fmt.Errorf("SLACK_GHOST_SLACK_APP_TOKEN is required")
	}
	if cfg.Slack.Channel == "" {
		return fmt.Errorf("SLACK_GHOST_SLACK_CHANNEL is required")
	}
	if cfg.Messenger.AppID == "" {
		return fmt.Errorf("SLACK_GHOST_MESSENGER_APP_ID is required")
	}

	if cfg.Messenger.Pages == "" {
		return fmt.Errorf("SLACK_GHOST_MESSENGER_PAGES is required")
	}
	if err := json.Unmarshal([]byte(cfg.Messenger.Pages), &cfg.Messenger.PageTokens); err != nil {
		return fmt.Errorf("invalid SLACK_GHOST_MESSENGER_PAGES, is it set? %w", err)
	}
	if len(cfg.Messenger.PageTokens) == 0 {
		return fmt.Errorf("SLACK_GHOST_MESSENGER_PAGES must register at least one page")
	}

	cfg.Messenger.AppNames = map[string]string{}
	if cfg.Messenger.Apps != "" {
		if err := json.Unmarshal([]byte(cfg.Messenger.Apps), &cfg.Messenger.AppNames); err != nil {
			return fmt.Errorf("invalid SLACK_GHOST_MESSENGER_APPS: %w", err)
		}
	}

	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = cfg.Messenger.AppID
	}
	switch cfg.Cache.Backend {
	case "redis", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return nil
}
