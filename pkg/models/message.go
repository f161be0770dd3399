package models

import (
	"encoding/json"
	"time"
)

// ChannelType identifies a messaging surface. Concrete platform adapters live
// outside the core; the bus and delivery queue treat these as opaque names.
type ChannelType string

const (
	ChannelConsole ChannelType = "console"
	ChannelCLI     ChannelType = "cli"
	ChannelWeb     ChannelType = "web"
	ChannelAPI     ChannelType = "api"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format across all channels and the session
// transcript line format.
type Message struct {
	ID        string         `json:"id,omitempty"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// InboundMessage is a normalized message received from a channel adapter.
type InboundMessage struct {
	Channel   ChannelType    `json:"channel"`
	SenderID  string         `json:"sender_id"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Media     []Attachment   `json:"media,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OutboundMessage is a message to be sent through a channel adapter.
type OutboundMessage struct {
	Channel ChannelType  `json:"channel"`
	ChatID  string       `json:"chat_id"`
	Content string       `json:"content"`
	ReplyTo string       `json:"reply_to,omitempty"`
	Media   []Attachment `json:"media,omitempty"`
}

// Attachment represents a file or media attachment.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"` // image, audio, video, document
	URL      string `json:"url"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Success     bool           `json:"success"`
	Data        any            `json:"data,omitempty"`
	Observation string         `json:"observation"`
	Error       string         `json:"error,omitempty"`
	Metadata    ToolResultMeta `json:"metadata"`
}

// ToolResultMeta carries execution timing for a tool result.
type ToolResultMeta struct {
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// Session represents one conversation, keyed by a canonical session key of
// the form agent:<agentId>:<channel>:<peerId> (or agent:<agentId>:main).
type Session struct {
	Key       string      `json:"sessionKey"`
	AgentID   string      `json:"agentId"`
	Channel   ChannelType `json:"channel"`
	PeerID    string      `json:"peerId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`

	// Messages is the in-memory working set: the most recent transcript
	// lines plus any messages buffered since the last Save.
	Messages []Message `json:"-"`

	// Unsaved counts trailing Messages entries not yet flushed to the
	// transcript file.
	Unsaved int `json:"-"`
}

// Append buffers a message on the session working set.
func (s *Session) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.Messages = append(s.Messages, msg)
	s.Unsaved++
	s.UpdatedAt = msg.Timestamp
}

// Recent returns up to n of the most recent messages.
func (s *Session) Recent(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// QueuedDelivery is one outbound message awaiting durable delivery.
type QueuedDelivery struct {
	ID          string      `json:"id"`
	Channel     ChannelType `json:"channel"`
	To          string      `json:"to"`
	Text        string      `json:"text"`
	AgentID     string      `json:"agent_id,omitempty"`
	SessionKey  string      `json:"session_key,omitempty"`
	RetryCount  int         `json:"retry_count"`
	MaxRetries  int         `json:"max_retries"`
	LastError   string      `json:"last_error,omitempty"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	NextRetryAt time.Time   `json:"next_retry_at"`
}
