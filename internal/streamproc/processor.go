// Package streamproc normalizes a raw LLM stream into one assistant message:
// content and reasoning channels, reassembled tool calls, merged usage.
package streamproc

import (
	"encoding/json"
	"sort"
	"strings"

	"code-review-pipeline/internal/llm"
	"code-review-pipeline/internal/usage"
)

// ParsedToolCall is one reassembled tool invocation. Arguments is the decoded
// JSON object; when decoding fails it carries {_raw, _error: "invalid_json"}
// instead and Invalid is set. Parsing never fails the stream.
type ParsedToolCall struct {
	ID           string
	Name         string
	Arguments    map[string]any
	RawArguments string
	Invalid      bool
}

// NormalizedMessage is the finished assistant turn.
type NormalizedMessage struct {
	Content      string
	Reasoning    string
	ToolCalls    []ParsedToolCall
	FinishReason string
	Usage        *usage.Tokens
}

// DeltaFunc observes streaming increments as they arrive. Either argument may
// be empty.
type DeltaFunc func(contentDelta, reasoningDelta string)

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

// Processor consumes chunks from one LLM call.
type Processor struct {
	onDelta DeltaFunc

	content   strings.Builder
	reasoning strings.Builder
	calls     map[int]*partialCall
	finish    string
	usage     usage.Tokens

	// think-tag scanner state
	inThink bool
	pending string
}

// New creates a processor. onDelta may be nil.
func New(onDelta DeltaFunc) *Processor {
	return &Processor{onDelta: onDelta, calls: make(map[int]*partialCall)}
}

// Feed consumes one chunk.
func (p *Processor) Feed(ch llm.Chunk) {
	if ch.ReasoningDelta != "" {
		p.reasoning.WriteString(ch.ReasoningDelta)
		p.emit("", ch.ReasoningDelta)
	}
	if ch.ContentDelta != "" {
		p.feedContent(ch.ContentDelta)
	}
	for _, tc := range ch.ToolCalls {
		pc, ok := p.calls[tc.Index]
		if !ok {
			pc = &partialCall{}
			p.calls[tc.Index] = pc
		}
		if tc.ID != "" {
			pc.id = tc.ID
		}
		if tc.Name != "" {
			pc.name = tc.Name
		}
		pc.args.WriteString(tc.Arguments)
	}
	if ch.FinishReason != "" {
		p.finish = ch.FinishReason
	}
	if ch.Usage != nil {
		p.usage = p.usage.Merge(*ch.Usage)
	}
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// feedContent routes content through the think-tag state machine. Tags may be
// split across deltas, so a possible partial tag at the end of the input is
// held back until the next delta.
func (p *Processor) feedContent(delta string) {
	s := p.pending + delta
	p.pending = ""

	for s != "" {
		tag := thinkOpen
		if p.inThink {
			tag = thinkClose
		}

		if i := strings.Index(s, tag); i >= 0 {
			p.write(s[:i])
			p.inThink = !p.inThink
			s = s[i+len(tag):]
			continue
		}

		if hold := tagSuffix(s, tag); hold > 0 {
			p.write(s[:len(s)-hold])
			p.pending = s[len(s)-hold:]
		} else {
			p.write(s)
		}
		return
	}
}

// tagSuffix returns the length of the longest suffix of s that is a proper
// prefix of tag.
func tagSuffix(s, tag string) int {
	maxN := len(tag) - 1
	if maxN > len(s) {
		maxN = len(s)
	}
	for n := maxN; n > 0; n-- {
		if strings.HasPrefix(tag, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

func (p *Processor) write(text string) {
	if text == "" {
		return
	}
	if p.inThink {
		p.reasoning.WriteString(text)
		p.emit("", text)
	} else {
		p.content.WriteString(text)
		p.emit(text, "")
	}
}

func (p *Processor) emit(content, reasoning string) {
	if p.onDelta != nil {
		p.onDelta(content, reasoning)
	}
}

// Message finalizes the stream. Held-back partial tag text is flushed as
// plain content; tool-call arguments are decoded, falling back to the
// _raw/_error envelope.
func (p *Processor) Message() NormalizedMessage {
	if p.pending != "" {
		text := p.pending
		p.pending = ""
		p.write(text)
	}

	msg := NormalizedMessage{
		Content:      strings.TrimSpace(p.content.String()),
		Reasoning:    strings.TrimSpace(p.reasoning.String()),
		FinishReason: p.finish,
	}
	if !p.usage.IsZero() {
		u := p.usage
		msg.Usage = &u
	}

	indexes := make([]int, 0, len(p.calls))
	for i := range p.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		pc := p.calls[i]
		raw := pc.args.String()
		parsed := ParsedToolCall{ID: pc.id, Name: pc.name, RawArguments: raw}
		var args map[string]any
		if raw == "" {
			parsed.Arguments = map[string]any{}
		} else if json.Unmarshal([]byte(raw), &args) == nil {
			parsed.Arguments = args
		} else {
			parsed.Arguments = map[string]any{"_raw": raw, "_error": "invalid_json"}
			parsed.Invalid = true
		}
		msg.ToolCalls = append(msg.ToolCalls, parsed)
	}
	return msg
}
