package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GenAICaller calls Gemini through the genai SDK, asking for a JSON response
// type when the prompt wants JSON.
type GenAICaller struct {
	Client       *genai.Client
	DefaultModel string
	Retry        RetryPolicy
	Logger       *slog.Logger
}

func NewGenAICaller(ctx context.Context, apiKey, defaultModel string) (*GenAICaller, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAICaller{
		Client:       client,
		DefaultModel: defaultModel,
		Retry:        DefaultRetryPolicy,
		Logger:       slog.Default(),
	}, nil
}

func (c *GenAICaller) Call(ctx context.Context, p Prompt) (*Response, error) {
	model := p.Model
	if model == "" {
		model = c.DefaultModel
	}

	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: p.System}},
		}
	}
	if p.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: p.User}}},
	}

	return generateWithRetry(ctx, c.Retry, c.Logger, p, func(ctx context.Context) (*Response, error) {
		resp, err := c.Client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return nil, err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return nil, ErrEmptyResponse
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}

		tokens := 0
		if resp.UsageMetadata != nil {
			tokens = int(resp.UsageMetadata.TotalTokenCount)
		}
		return &Response{Content: sb.String(), TotalTokens: tokens}, nil
	})
}
