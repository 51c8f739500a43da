package intent

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"code-review-pipeline/internal/events"
)

// NewLangChainSummarizer builds the production Summarizer: one streamed
// chat completion with the sampling the summary call wants (temperature 0.7,
// top_p 0.95), forwarding deltas as intent_delta events.
func NewLangChainSummarizer(endpoint, apiKey, model string, bus *events.Bus) (Summarizer, error) {
	llm, err := lcopenai.New(
		lcopenai.WithModel(model),
		lcopenai.WithBaseURL(endpoint),
		lcopenai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("create intent llm: %w", err)
	}

	return func(ctx context.Context, system, user string) (string, error) {
		resp, err := llm.GenerateContent(ctx,
			[]llms.MessageContent{
				llms.TextParts(llms.ChatMessageTypeSystem, system),
				llms.TextParts(llms.ChatMessageTypeHuman, user),
			},
			llms.WithTemperature(0.7),
			llms.WithTopP(0.95),
			llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
				bus.Emit(events.Delta(events.TypeIntentDelta, string(chunk), "", -1))
				return nil
			}),
		)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("intent llm returned no choices")
		}
		return resp.Choices[0].Content, nil
	}, nil
}
