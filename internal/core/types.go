package core

import (
	"context"
)

// Transport moves messages between an external system and the runner.
type Transport interface {
	// ID returns a stable identifier (e.g., "nostr", "http").
	ID() string
	// Start begins receiving inbound messages and pushing them into the provided channel.
	// It should return when ctx is canceled or a fatal error occurs.
	Start(ctx context.Context, inbound chan<- InboundMessage) error
	// Send delivers an outbound message back to the external system.
	Send(ctx context.Context, msg OutboundMessage) error
}

// Agent turns a user request into a reply.
type Agent interface {
	Generate(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// InboundMessage represents a message entering the runner.
type InboundMessage struct {
	Transport string         `json:"transport"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	ThreadID  string         `json:"thread_id"`
	Language  string         `json:"language,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"` // empty selects the default agent
	Meta      map[string]any `json:"meta,omitempty"`
}

// OutboundMessage represents a message leaving the runner.
type OutboundMessage struct {
	Transport string         `json:"transport"`
	Recipient string         `json:"recipient"`
	Text      string         `json:"text"`
	ThreadID  string         `json:"thread_id"`
	ErrorCode string         `json:"error_code,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// AgentRequest is one conversation turn handed to an agent.
type AgentRequest struct {
	Prompt         string         `json:"prompt"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Language       string         `json:"language,omitempty"`
	Sender         string         `json:"sender,omitempty"`
	SenderMeta     map[string]any `json:"sender_meta,omitempty"`
}

// AgentResponse is produced by the agent. A non-empty ErrorCode marks Reply
// as an error message for the user rather than a result.
type AgentResponse struct {
	Reply     string `json:"reply"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Error codes carried in AgentResponse.ErrorCode.
const (
	ErrorCodeUnknown = "unknown"
)

// MessageTurn represents one exchange in history.
type MessageTurn struct {
	Role string `json:"role"` // user or agent
	Text string `json:"text"`
}
