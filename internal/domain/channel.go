package domain

import "context"

// Parse modes understood by the transport.
const (
	ParseModeNone     = ""
	ParseModeMarkdown = "Markdown"
)

// InboundMessage is a text message received from a channel.
type InboundMessage struct {
	ChatID      string
	Text        string
	ChannelName string

	// Optional; zero values are safe.
	MessageID  string
	SenderID   string
	SenderName string
}

// Reply is the transport-independent answer to one inbound message.
type Reply struct {
	Text string

	// Keyboard is a simple reply keyboard: rows of fixed button labels.
	Keyboard [][]string
	// ParseMode is ParseModeNone or ParseModeMarkdown.
	ParseMode string
	// DisablePreview suppresses link previews for URLs in Text.
	DisablePreview bool
}

// OutboundMessage is a reply addressed to a chat.
type OutboundMessage struct {
	ChatID string
	Reply
	ReplyToID string
}

// MessageHandler is a callback the channel invokes when it receives input.
type MessageHandler func(ctx context.Context, msg InboundMessage) error

// Channel is the interface for user-facing I/O adapters.
type Channel interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg OutboundMessage) error
	Name() string
}
