// Package schema defines the shared message and provider contracts used by
// the agent loop, channels, and the memory subsystem.
package schema

// Message is one turn in a conversation.
type Message struct {
	Role      string         `json:"role"` // "system" | "user" | "assistant" | "tool"
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	ToolID    string         `json:"tool_call_id,omitempty"`
	ToolName  string         `json:"name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Messages is an ordered conversation.
type Messages struct {
	Messages []Message
}

// NewMessages creates a Messages list from the given initial turns.
func NewMessages(msgs ...Message) Messages {
	return Messages{Messages: msgs}
}

// NewSystemMessage returns a system-role message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// NewUserMessage returns a user-role message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Add appends a message.
func (m *Messages) Add(msg Message) {
	m.Messages = append(m.Messages, msg)
}

// AddAssistant appends an assistant turn, optionally carrying tool calls.
func (m *Messages) AddAssistant(content string, calls []ToolCall) {
	m.Add(Message{Role: "assistant", Content: content, ToolCalls: calls})
}

// AddToolResult appends a tool-role result message for the given call.
func (m *Messages) AddToolResult(callID, name, result string) {
	m.Add(Message{Role: "tool", Content: result, ToolID: callID, ToolName: name})
}

// Clone returns a snapshot copy (the slice is copied; message values are
// copied by assignment).
func (m Messages) Clone() Messages {
	out := make([]Message, len(m.Messages))
	copy(out, m.Messages)
	return Messages{Messages: out}
}
