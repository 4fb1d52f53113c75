package domain

import "context"

// Channel is the interface for chat-platform adapters (Telegram, Slack,
// Discord, CLI). Start blocks until the context is cancelled or the
// platform connection fails.
type Channel interface {
	Name() string
	Start(ctx context.Context, bus MessageBus) error
	Stop() error
}
