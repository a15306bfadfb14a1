package notification

import (
	"context"
	"time"

	"github.com/bloodbridge/platform/internal/shared/types"
)

// Channel is an outbound delivery channel.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelVoice    Channel = "voice"
)

// ParseChannel returns the channel for s, defaulting to SMS when s is empty.
func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case "":
		return ChannelSMS, true
	case ChannelSMS, ChannelWhatsApp, ChannelVoice:
		return Channel(s), true
	}
	return "", false
}

// Message is a single outbound notification.
type Message struct {
	ID          string   `json:"id"`
	Channel     Channel  `json:"channel"`
	RecipientID types.ID `json:"recipient_id"`
	Phone       string   `json:"phone"`
	Body        string   `json:"body"`

	// RequestID ties the message to a broadcast so delivery outcomes can be
	// written back to the donor's record. Zero for messages to hospitals.
	RequestID types.ID `json:"request_id,omitempty"`

	// Call carries the IVR context for voice messages.
	Call *CallContext `json:"call,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Result is the final outcome of a dispatched message.
type Result struct {
	Message   Message
	Delivered bool
	Attempts  int
	Err       error
	Elapsed   time.Duration
}

// Provider delivers a message over one channel.
type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

// Sender is what business code depends on to queue a message.
type Sender interface {
	Dispatch(msg Message) error
}
