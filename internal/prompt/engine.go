// Package prompt assembles model requests from stored conversation history
// and holds the bot's built-in prompts.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/Emperor-Ovaltine/gideon/internal/types"
	"github.com/Emperor-Ovaltine/gideon/pkg/llm"
)

// Generator turns a resolved model, system prompt and history into a reply
// through an llm.Provider. It implements types.TextGenerator.
type Generator struct {
	provider    llm.Provider
	maxTokens   int
	temperature float32
}

// NewGenerator wraps provider. Zero maxTokens or temperature defer to the
// provider's configuration.
func NewGenerator(provider llm.Provider, maxTokens int, temperature float32) *Generator {
	return &Generator{
		provider:    provider,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

var _ types.TextGenerator = (*Generator)(nil)

// Generate requests a completion and returns its text.
func (g *Generator) Generate(ctx context.Context, model, systemPrompt string, history []types.Message) (string, error) {
	resp, err := g.provider.Complete(ctx, llm.Request{
		Model:       model,
		Messages:    BuildMessages(systemPrompt, history),
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("complete with %s: %w", model, err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("complete with %s: empty response", model)
	}
	return text, nil
}

// BuildMessages assembles the system prompt and history, in order, into
// provider messages. User messages carry their author as a "name: " prefix
// so the model can tell speakers apart in shared channels.
func BuildMessages(systemPrompt string, history []types.Message) []llm.Message {
	messages := make([]llm.Message, 0, 1+len(history))
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		messages = append(messages, toMessage(m))
	}
	return messages
}

func toMessage(m types.Message) llm.Message {
	switch m.Role {
	case types.RoleAssistant:
		return llm.Message{Role: "assistant", Content: m.Content}
	default:
		content := m.Content
		if m.Author != "" {
			content = m.Author + ": " + content
		}
		return llm.Message{
			Role:    "user",
			Content: content,
			Images:  append([]string(nil), m.AttachmentRefs...),
		}
	}
}
