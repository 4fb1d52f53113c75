package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboundMessage is a single message received from a chat platform.
// It is ephemeral: created when the platform event arrives and discarded
// once a response has been produced or the exchange has failed for good.
type InboundMessage struct {
	ID        string // correlation ID, assigned by the receiving channel
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time
}

// NewInbound builds an InboundMessage with a fresh correlation ID and
// receipt timestamp. Channels use this for every platform event they accept.
func NewInbound(channel, chatID, senderID, content string) InboundMessage {
	return InboundMessage{
		ID:        uuid.NewString(),
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Button is a suggested reply. Telegram renders button rows as an inline
// keyboard; plain-text channels render them as an option list. Pressing a
// button publishes Data back as the content of a new inbound message.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is a single response sent back to a chat platform.
// ReplyTo carries the correlation ID of the inbound message it answers;
// every outbound message correlates to exactly one inbound message.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
	Buttons [][]Button
}
