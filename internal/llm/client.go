// Package llm is the provider-neutral chat surface. Adapters translate the
// Request/Chunk types to a concrete wire client; everything above this
// package is provider-agnostic.
package llm

import (
	"context"

	"code-review-pipeline/internal/usage"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolDef declares one callable tool to the model. Parameters is a JSON
// schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one function invocation requested by the model. During
// streaming the fields arrive as deltas keyed by Index.
type ToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// ChatMessage is one conversation turn. Assistant turns may carry ToolCalls;
// tool turns answer one call via ToolCallID.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Request is one chat-completion call. Temperature and TopP are pointers so
// zero values can be expressed; nil means provider default.
type Request struct {
	Model              string
	Messages           []ChatMessage
	Tools              []ToolDef
	Temperature        *float64
	TopP               *float64
	MaxTokens          int
	ResponseFormatJSON bool
}

// Chunk is one normalized streaming increment.
type Chunk struct {
	ContentDelta   string
	ReasoningDelta string
	ToolCalls      []ToolCall
	FinishReason   string
	Usage          *usage.Tokens
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// Client is a streaming chat provider.
type Client interface {
	// Name identifies the provider and model, e.g. "openai/gpt-4.1".
	Name() string
	// StreamChat starts one streamed completion.
	StreamChat(ctx context.Context, req Request) (Stream, error)
}

// Float is a pointer helper for Request temperature/top_p.
func Float(f float64) *float64 { return &f }

// System, User and Assistant are message constructors for the common cases.
func System(content string) ChatMessage    { return ChatMessage{Role: RoleSystem, Content: content} }
func User(content string) ChatMessage      { return ChatMessage{Role: RoleUser, Content: content} }
func Assistant(content string) ChatMessage { return ChatMessage{Role: RoleAssistant, Content: content} }

// ToolResult builds the tool-turn answer for one call.
func ToolResult(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}
