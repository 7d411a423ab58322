package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
)

// ModelType is an enum for the available Google AI models.
type ModelType string

const (
	// DefaultModel is the default model to use if none is specified
	DefaultModel ModelType = "gemini-3-flash-preview"
	ProModel     ModelType = "gemini-3-pro-preview"
)

// GoogleAi builds a langchaingo Gemini model. An empty model name selects
// DefaultModel.
func GoogleAi(ctx context.Context, apiKey string, model ModelType) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is not set")
	}
	if model == "" {
		model = DefaultModel
	}

	// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(string(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai client: %w", err)
	}
	return llm, nil
}

// NewCaller builds the Caller for a provider name: "genai" uses the genai SDK,
// anything else langchaingo.
func NewCaller(ctx context.Context, provider, apiKey string, model ModelType) (Caller, error) {
	if provider == "genai" {
		if model == "" {
			model = DefaultModel
		}
		return NewGenAICaller(ctx, apiKey, string(model))
	}

	llm, err := GoogleAi(ctx, apiKey, model)
	if err != nil {
		return nil, err
	}
	return NewLLMCaller(llm), nil
}
