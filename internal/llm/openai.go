package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"code-review-pipeline/internal/usage"
)

// OpenAIAdapter implements Client over any OpenAI-compatible
// chat.completions endpoint.
// Safe for concurrent use as long as configuration is not modified after
// creation; the underlying http.Client is shared.
type OpenAIAdapter struct {
	client   *openai.Client
	provider string
	model    string

	// supportsResponseFormat gates forwarding response_format; some
	// compatible providers reject the field outright.
	supportsResponseFormat bool
}

// NewOpenAIAdapter builds the adapter for one provider endpoint. connectTimeout
// bounds dialing only; per-call deadlines come from the caller's context.
func NewOpenAIAdapter(provider, endpoint, apiKey, model string, supportsResponseFormat bool, connectTimeout time.Duration) *OpenAIAdapter {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
		},
	}
	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(endpoint),
		option.WithHTTPClient(httpClient),
	)
	return &OpenAIAdapter{
		client:                 &client,
		provider:               provider,
		model:                  model,
		supportsResponseFormat: supportsResponseFormat,
	}
}

func (a *OpenAIAdapter) Name() string {
	return a.provider + "/" + a.model
}

// StreamChat starts a streamed completion. Usage is requested via
// stream_options so the final chunk carries token counts.
func (a *OpenAIAdapter) StreamChat(ctx context.Context, req Request) (Stream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.resolveModel(req.Model)),
		Messages: buildMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormatJSON && a.supportsResponseFormat {
		val := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &val,
		}
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  shared.FunctionParameters(t.Parameters),
			},
		})
	}

	raw := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := raw.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &openaiStream{raw: raw}, nil
}

func (a *OpenAIAdapter) resolveModel(override string) string {
	if override != "" {
		return override
	}
	return a.model
}

func buildMessages(msgs []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

// openaiStream adapts the ssestream iterator to the Recv contract.
type openaiStream struct {
	raw *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openaiStream) Recv() (Chunk, error) {
	if !s.raw.Next() {
		if err := s.raw.Err(); err != nil {
			return Chunk{}, wrapError(err)
		}
		return Chunk{}, io.EOF
	}
	return normalizeChunk(s.raw.Current()), nil
}

func (s *openaiStream) Close() error {
	return s.raw.Close()
}

func normalizeChunk(c openai.ChatCompletionChunk) Chunk {
	var out Chunk

	if c.Usage.TotalTokens > 0 || c.Usage.PromptTokens > 0 || c.Usage.CompletionTokens > 0 {
		out.Usage = &usage.Tokens{
			InputTokens:  c.Usage.PromptTokens,
			OutputTokens: c.Usage.CompletionTokens,
			TotalTokens:  c.Usage.TotalTokens,
		}
	}
	if len(c.Choices) == 0 {
		return out
	}

	choice := c.Choices[0]
	out.ContentDelta = choice.Delta.Content
	out.FinishReason = string(choice.FinishReason)
	for _, tc := range choice.Delta.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	// reasoning_content is a provider extension the typed chunk drops;
	// recover it from the raw payload.
	if rc := gjson.Get(c.RawJSON(), "choices.0.delta.reasoning_content"); rc.Exists() {
		out.ReasoningDelta = rc.String()
	}
	return out
}

// wrapError classifies transport errors: 429 and 5xx become retryable.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		code := apiErr.StatusCode
		if code == 429 || (code >= 500 && code < 600) {
			return NewRetryableError(err)
		}
		return err
	}
	return fmt.Errorf("llm request: %w", err)
}
