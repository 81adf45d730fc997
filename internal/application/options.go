package application

import (
	"log/slog"
	"time"

	"echodesk/cli/internal/agentloop"
	"echodesk/cli/internal/kvstore"
)

// StartOptions collects everything needed to bring the local assistant up.
type StartOptions struct {
	ConfigDir string
	LocalHost string
	// LocalPort falls back to local_port from config.toml when zero.
	LocalPort int
	APIToken  string
	Store     StoreOptions
	// OpenAI is used when config.toml has no complete agent section.
	OpenAI agentloop.OpenAIConfig
	Logger *slog.Logger
	// PanelInterval overrides panel.poll_interval_ms. A negative value
	// disables the in-process panel publisher.
	PanelInterval time.Duration
}

type StoreOptions struct {
	// Backend is one of sqlite, redis or memory.
	Backend   string
	DBPath    string
	Redis     kvstore.RedisOptions
	Namespace string
}
