// Package bus is the in-process message transport between chat channels and
// the agent core.
package bus

// InboundMessage is one user turn arriving from a channel.
type InboundMessage struct {
	Channel  string
	SenderID string
	ChatID   string
	Content  string
	// RoomID and ThreadID identify where the turn happened on platforms
	// that have such structure (Slack channels/threads); carried through to
	// the memory scheduler for observability.
	RoomID   string
	ThreadID string
	Metadata map[string]any
}

// NewInboundMessage creates an InboundMessage.
func NewInboundMessage(channel, senderID, chatID, content string) InboundMessage {
	return InboundMessage{Channel: channel, SenderID: senderID, ChatID: chatID, Content: content}
}

// OutboundMessage is one agent reply heading back to a channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ThreadID string
	Metadata map[string]any
}

// NewOutboundMessage creates an OutboundMessage.
func NewOutboundMessage(channel, chatID, content string) OutboundMessage {
	return OutboundMessage{Channel: channel, ChatID: chatID, Content: content}
}

// Bus is the contract between chat channels and the agent core.
type Bus interface {
	// PublishInbound delivers a message from a channel to the agent.
	PublishInbound(msg InboundMessage)
	// PublishOutbound delivers a response from the agent to a channel.
	PublishOutbound(msg OutboundMessage)
	// InboundChan returns a receive-only channel for the agent to consume.
	InboundChan() <-chan InboundMessage
	// OutboundChan returns a receive-only channel for the channel manager to consume.
	OutboundChan() <-chan OutboundMessage
}

// MessageBus is the default in-process Bus backed by buffered Go channels.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus creates a MessageBus with the given buffer size per
// direction.
func NewMessageBus(bufSize int) Bus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, bufSize),
		outbound: make(chan OutboundMessage, bufSize),
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage)   { b.inbound <- msg }
func (b *MessageBus) PublishOutbound(msg OutboundMessage) { b.outbound <- msg }

func (b *MessageBus) InboundChan() <-chan InboundMessage   { return b.inbound }
func (b *MessageBus) OutboundChan() <-chan OutboundMessage { return b.outbound }
