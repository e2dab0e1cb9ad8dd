package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/opaldolphin/opaldolphin/internal/schema"
)

// ExtractionSummarizer adapts an LLMProvider to the auto-flush scheduler's
// summarizer boundary: one prompt in, free text out, bounded by the caller's
// context.
type ExtractionSummarizer struct {
	provider schema.LLMProvider
	model    string
}

// NewExtractionSummarizer wraps provider; model may be empty to use the
// provider default.
func NewExtractionSummarizer(provider schema.LLMProvider, model string) *ExtractionSummarizer {
	return &ExtractionSummarizer{provider: provider, model: model}
}

// Summarize runs one extraction turn. No tools are offered; extraction wants
// plain text.
func (s *ExtractionSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	messages := schema.NewMessages(
		schema.NewSystemMessage("You are a memory extraction agent. Follow the instructions exactly."),
		schema.NewUserMessage(prompt),
	)

	resp, err := s.provider.Chat(ctx, messages, nil, schema.NewChatOptions(s.model, 1024, 0.2))
	if err != nil {
		return "", fmt.Errorf("extraction LLM call: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}
