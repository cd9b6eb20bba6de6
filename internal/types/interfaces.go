// internal/types/interfaces.go
package types

import (
	"context"
)

// TextGenerator produces the assistant reply for a resolved model, system
// prompt and history. Transport details belong to the implementation.
type TextGenerator interface {
	Generate(ctx context.Context, model, systemPrompt string, history []Message) (string, error)
}

// ImageGenerator renders an image for a text prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
