package vision

import (
	"context"
	"fmt"
	"strings"
)

// Client sends a plant image and prompt to a vision-capable model and returns
// the raw text response. Implementations report failures as
// *analysis.InferenceError so the pipeline can classify them.
type Client interface {
	Infer(ctx context.Context, image []byte, prompt string) (string, error)
	Model() string
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// NewClient constructs a vision client for the configured provider.
func NewClient(provider, apiKey, baseURL, model string) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(apiKey, baseURL, model)
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey, baseURL, model)
	default:
		return nil, fmt.Errorf("unsupported vision provider: %s", provider)
	}
}
