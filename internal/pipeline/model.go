package pipeline

import (
	"context"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Model runs one language-model generation. The pipeline depends on this
// interface rather than on Genkit directly; tests substitute a fake.
type Model interface {
	// Generate returns the full response text (non-streamed).
	Generate(ctx context.Context, system, prompt string) (string, error)

	// GenerateStream calls onChunk for each response fragment as it
	// arrives and returns the full text. Returning an error from onChunk
	// aborts the generation.
	GenerateStream(ctx context.Context, system, prompt string, onChunk func(context.Context, string) error) (string, error)
}

// GenkitModel implements Model with genkit.Generate.
type GenkitModel struct {
	G         *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
}

func (m *GenkitModel) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, m.G,
		ai.WithModelName(m.ModelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (m *GenkitModel) GenerateStream(ctx context.Context, system, prompt string, onChunk func(context.Context, string) error) (string, error) {
	resp, err := genkit.Generate(ctx, m.G,
		ai.WithModelName(m.ModelName),
		ai.WithSystem(system),
		ai.WithPrompt(prompt),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return onChunk(ctx, chunk.Text())
		}),
	)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
