package repo

import (
	"context"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
)

// MessageHandler receives inbound chat messages
type MessageHandler func(ctx context.Context, msg *domain.InboundMessage)

// ChatRepo is the chat platform client interface
// Responsible for the bot connection, sending text and channel management
type ChatRepo interface {
	// Connect logs in with token, replacing any existing connection
	Connect(ctx context.Context, token string) error

	// Connected reports whether a login has succeeded and not been closed
	Connected() bool

	// Close releases the connection
	Close() error

	// SendText sends plain text to a channel
	SendText(ctx context.Context, channelID, text string) error

	// CopyChannel creates a new channel with the same settings as channelID
	// and returns its id
	CopyChannel(ctx context.Context, channelID string) (string, error)

	// MoveChannel puts newID in the place of oldID (same position and audience)
	MoveChannel(ctx context.Context, newID, oldID string) error

	// DeleteChannel removes a channel
	DeleteChannel(ctx context.Context, channelID string) error

	// SetPresence updates the bot's displayed activity
	SetPresence(ctx context.Context, presence domain.Presence) error

	// OnMessage registers the handler for inbound messages; nil unregisters it
	OnMessage(handler MessageHandler)
}
