package clients

import (
	"context"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
)

// LLMCaller calls a langchaingo model.
type LLMCaller struct {
	LLM    llms.Model
	Retry  RetryPolicy
	Logger *slog.Logger
}

func NewLLMCaller(llm llms.Model) *LLMCaller {
	return &LLMCaller{
		LLM:    llm,
		Retry:  DefaultRetryPolicy,
		Logger: slog.Default(),
	}
}

func (c *LLMCaller) Call(ctx context.Context, p Prompt) (*Response, error) {
	var messages []llms.MessageContent
	if p.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, p.System))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, p.User))

	var opts []llms.CallOption
	if p.Model != "" {
		opts = append(opts, llms.WithModel(p.Model))
	}
	if p.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	return generateWithRetry(ctx, c.Retry, c.Logger, p, func(ctx context.Context) (*Response, error) {
		resp, err := c.LLM.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		choice := resp.Choices[0]
		return &Response{
			Content:     choice.Content,
			TotalTokens: totalTokens(choice.GenerationInfo),
		}, nil
	})
}

// totalTokens reads the usage a provider reports in GenerationInfo. Key names
// differ between langchaingo backends.
func totalTokens(info map[string]any) int {
	for _, key := range []string{"TotalTokens", "total_tokens"} {
		switch v := info[key].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
