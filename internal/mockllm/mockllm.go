// Package mockllm is a deterministic in-process LLM used when no provider is
// configured and as the scripted model in tests. Streams behave like a real
// provider: content arrives in pieces, tool calls arrive as indexed deltas,
// the final chunk carries usage.
package mockllm

import (
	"context"
	"io"
	"sync"

	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/usage"
)

// Script is the canned response for one call.
type Script struct {
	Content      string
	Reasoning    string
	ToolCalls    []llm.ToolCall
	FinishReason string // defaults to "tool_calls" when ToolCalls set, else "stop"
	Usage        *usage.Tokens
}

// Client replays scripts in call order. Calls beyond the script list replay
// the last script (or the degraded default when none were given).
type Client struct {
	mu      sync.Mutex
	scripts []Script
	calls   int
}

// New builds a client that replays the given scripts.
func New(scripts ...Script) *Client {
	return &Client{scripts: scripts}
}

// NewDegraded is the stand-in used when no real provider is reachable. Its
// answer is honest about being canned so a degraded session is recognizable.
func NewDegraded() *Client {
	return New(Script{
		Content: "# Review unavailable\n\nNo LLM provider is configured; this is a placeholder response. " +
			"The diff was collected and rule suggestions were computed, but no model-based review ran.",
		Usage: &usage.Tokens{InputTokens: 1, OutputTokens: 1, TotalTokens: 2},
	})
}

func (c *Client) Name() string { return "mock/scripted" }

// Calls reports how many StreamChat calls were made.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *Client) StreamChat(ctx context.Context, _ llm.Request) (llm.Stream, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	var s Script
	if idx >= 0 {
		s = c.scripts[idx]
	}
	c.mu.Unlock()

	return newScriptStream(ctx, s), nil
}

type scriptStream struct {
	ctx    context.Context
	chunks []llm.Chunk
	pos    int
}

const contentPiece = 40

func newScriptStream(ctx context.Context, s Script) *scriptStream {
	var chunks []llm.Chunk
	if s.Reasoning != "" {
		chunks = append(chunks, llm.Chunk{ReasoningDelta: s.Reasoning})
	}
	for content := s.Content; content != ""; {
		n := contentPiece
		if n > len(content) {
			n = len(content)
		}
		chunks = append(chunks, llm.Chunk{ContentDelta: content[:n]})
		content = content[n:]
	}
	for _, tc := range s.ToolCalls {
		chunks = append(chunks, llm.Chunk{ToolCalls: []llm.ToolCall{tc}})
	}

	finish := s.FinishReason
	if finish == "" {
		if len(s.ToolCalls) > 0 {
			finish = "tool_calls"
		} else {
			finish = "stop"
		}
	}
	chunks = append(chunks, llm.Chunk{FinishReason: finish, Usage: s.Usage})
	return &scriptStream{ctx: ctx, chunks: chunks}
}

func (s *scriptStream) Recv() (llm.Chunk, error) {
	if err := s.ctx.Err(); err != nil {
		return llm.Chunk{}, err
	}
	if s.pos >= len(s.chunks) {
		return llm.Chunk{}, io.EOF
	}
	ch := s.chunks[s.pos]
	s.pos++
	return ch, nil
}

func (s *scriptStream) Close() error { return nil }
