// Package bus decouples channel adapters from the agent runtime with
// buffered in-process message queues.
package bus

import "context"

// ImageAttachment is inbound media already fetched by the adapter.
type ImageAttachment struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type,omitempty"`
}

// InboundMessage is one message received from a channel adapter.
type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	IsGroup  bool              `json:"is_group,omitempty"`
	Images   []ImageAttachment `json:"-"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is one reply to deliver through a channel adapter.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

const queueDepth = 64

// MessageBus routes messages between adapters and the agent runtime.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueDepth),
		outbound: make(chan OutboundMessage, queueDepth),
	}
}

// PublishInbound hands a received message to the runtime. Blocks when the
// queue is full so a flooding adapter backpressures instead of dropping.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishOutbound hands a reply to the dispatch loop.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inbound is the runtime's receive side.
func (b *MessageBus) Inbound() <-chan InboundMessage { return b.inbound }

// Outbound is the dispatcher's receive side.
func (b *MessageBus) Outbound() <-chan OutboundMessage { return b.outbound }
