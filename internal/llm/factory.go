package llm

import (
	"fmt"

	"code-review-pipeline/internal/config"
)

// NewFromConfig resolves an LLM preference ("auto", "<provider>", or
// "<provider>:<model>") against the configured providers and returns a
// streaming client. A provider without an API key is an error; callers decide
// whether that degrades to a mock.
func NewFromConfig(cfg *config.Config, preference string) (Client, error) {
	name, p, model, err := cfg.ResolvePreference(preference)
	if err != nil {
		return nil, err
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("provider %q has no API key configured", name)
	}
	return NewOpenAIAdapter(name, p.Endpoint, p.APIKey, model, p.SupportsResponseFormat, cfg.LLM.HTTPConnect), nil
}

// IsThinkingModel reports whether the resolved model is configured as a
// reasoning model, which widens the planner's first-token timeout.
func IsThinkingModel(cfg *config.Config, preference string) bool {
	_, p, _, err := cfg.ResolvePreference(preference)
	if err != nil {
		return false
	}
	return p.Thinking
}
