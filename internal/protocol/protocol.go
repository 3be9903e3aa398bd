// Package protocol defines the wire messages exchanged between the chat
// client and the relay. Every frame is one JSON object carrying a "type"
// discriminant.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall describes one tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`        // unique within one assistant turn
	Name      string `json:"name"`      // tool identifier
	Arguments string `json:"arguments"` // JSON-encoded parameter blob, schema owned by the tool
}

// Turn is a single conversational contribution. An assistant turn carries
// non-empty Content or non-empty ToolCalls, never both. A tool turn always
// carries ToolCallID linking it to the call it answers.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Message type tags on the wire.
const (
	TypeChatRequest = "chat_request"
	TypeToolResult  = "tool_result"
	TypeText        = "text"
	TypeToolCall    = "tool_call"
)

// ClientMessage is a frame sent from the client to the relay.
type ClientMessage interface {
	clientMessage()
}

// ChatRequest submits the conversation history for a new completion round.
// Messages is adopted by the relay verbatim as the authoritative transcript
// prefix.
type ChatRequest struct {
	Messages []Turn `json:"messages"`
}

// ToolResult returns the outcome of a locally executed tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (ChatRequest) clientMessage() {}
func (ToolResult) clientMessage()  {}

// StreamChunk is a frame sent from the relay to the client. Chunks are
// transient wire units and are never persisted as-is.
type StreamChunk interface {
	streamChunk()
}

// TextChunk carries a fragment of streamed assistant text. Done marks the end
// of the current model turn; the round may still continue after a tool result.
type TextChunk struct {
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

// ToolCallChunk asks the client to execute a tool and report the result.
type ToolCallChunk struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolResultChunk mirrors a tool result back to the client. Unused in the
// normal flow, kept for wire compatibility.
type ToolResultChunk struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (TextChunk) streamChunk()       {}
func (ToolCallChunk) streamChunk()   {}
func (ToolResultChunk) streamChunk() {}

type taggedChatRequest struct {
	Type     string `json:"type"`
	Messages []Turn `json:"messages"`
}

type taggedToolResult struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Content string `json:"content"`
}

type taggedText struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Done  bool   `json:"done"`
}

type taggedToolCall struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// EncodeClientMessage serializes m with its type tag.
func EncodeClientMessage(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case ChatRequest:
		return json.Marshal(taggedChatRequest{Type: TypeChatRequest, Messages: v.Messages})
	case ToolResult:
		return json.Marshal(taggedToolResult{Type: TypeToolResult, ID: v.ID, Content: v.Content})
	default:
		return nil, fmt.Errorf("unknown client message %T", m)
	}
}

// DecodeClientMessage parses a client frame, validating the discriminant
// before dispatch. Unknown or missing tags are decode errors, never panics.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse message envelope: %w", err)
	}
	switch env.Type {
	case TypeChatRequest:
		var m taggedChatRequest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse chat_request: %w", err)
		}
		return ChatRequest{Messages: m.Messages}, nil
	case TypeToolResult:
		var m taggedToolResult
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse tool_result: %w", err)
		}
		return ToolResult{ID: m.ID, Content: m.Content}, nil
	case "":
		return nil, fmt.Errorf("missing message type")
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// EncodeStreamChunk serializes c with its type tag.
func EncodeStreamChunk(c StreamChunk) ([]byte, error) {
	switch v := c.(type) {
	case TextChunk:
		return json.Marshal(taggedText{Type: TypeText, Delta: v.Delta, Done: v.Done})
	case ToolCallChunk:
		return json.Marshal(taggedToolCall{Type: TypeToolCall, ID: v.ID, Name: v.Name, Arguments: v.Arguments})
	case ToolResultChunk:
		return json.Marshal(taggedToolResult{Type: TypeToolResult, ID: v.ID, Content: v.Content})
	default:
		return nil, fmt.Errorf("unknown stream chunk %T", c)
	}
}

// DecodeStreamChunk parses a relay frame, validating the discriminant before
// dispatch.
func DecodeStreamChunk(data []byte) (StreamChunk, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse chunk envelope: %w", err)
	}
	switch env.Type {
	case TypeText:
		var c taggedText
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse text chunk: %w", err)
		}
		return TextChunk{Delta: c.Delta, Done: c.Done}, nil
	case TypeToolCall:
		var c taggedToolCall
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse tool_call chunk: %w", err)
		}
		return ToolCallChunk{ID: c.ID, Name: c.Name, Arguments: c.Arguments}, nil
	case TypeToolResult:
		var c taggedToolResult
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse tool_result chunk: %w", err)
		}
		return ToolResultChunk{ID: c.ID, Content: c.Content}, nil
	case "":
		return nil, fmt.Errorf("missing chunk type")
	default:
		return nil, fmt.Errorf("unknown chunk type %q", env.Type)
	}
}
