package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Prompt is a single model request.
type Prompt struct {
	Model  string
	System string
	User   string

	// JSON requests a JSON object reply. Code fences around it are removed.
	JSON bool
	// Schema, when set, is a JSON schema the reply must satisfy.
	Schema string
	// Validate, when set, runs on the reply after schema validation.
	Validate func(content string) error
}

// Response is the text of a model reply and the tokens it cost.
type Response struct {
	Content     string
	TotalTokens int
}

// Caller is the model-calling capability used by the pipeline.
type Caller interface {
	Call(ctx context.Context, p Prompt) (*Response, error)
}

var ErrEmptyResponse = errors.New("model returned no content")

// RetryPolicy controls how failed or invalid replies are retried.
type RetryPolicy struct {
	Attempts uint
	Delay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Delay: time.Second}

type generateFunc func(ctx context.Context) (*Response, error)

// generateWithRetry calls generate until it returns a reply that passes the
// prompt's checks or the attempts run out.
func generateWithRetry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, p Prompt, generate generateFunc) (*Response, error) {
	if policy.Attempts == 0 {
		policy = DefaultRetryPolicy
	}

	var result *Response
	err := retry.Do(
		func() error {
			resp, err := generate(ctx)
			if err != nil {
				return fmt.Errorf("llm generation failed: %w", err)
			}
			if strings.TrimSpace(resp.Content) == "" {
				return ErrEmptyResponse
			}
			if p.JSON {
				resp.Content = ExtractJSON(resp.Content)
			}
			if p.Schema != "" {
				if err := ValidateJSON(p.Schema, resp.Content); err != nil {
					return fmt.Errorf("validation failed: %w", err)
				}
			}
			if p.Validate != nil {
				if err := p.Validate(resp.Content); err != nil {
					return fmt.Errorf("validation failed: %w", err)
				}
			}
			result = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(policy.Attempts),
		retry.Delay(policy.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("Retrying LLM generation", "attempt", n+2, "last_error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("operation failed after %d attempts: %w", policy.Attempts, err)
	}
	return result, nil
}

// ExtractJSON trims surrounding prose and markdown code fences from a reply
// that is expected to hold one JSON object.
func ExtractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*jsonschema.Schema{}
)

func compileSchema(schema string) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[schema]; ok {
		return s, nil
	}
	compiled, err := jsonschema.CompileString("schema.json", schema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	schemaCache[schema] = compiled
	return compiled, nil
}

// ValidateJSON checks raw against a JSON schema.
func ValidateJSON(schema, raw string) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("json parse error: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("output does not match schema: %w", err)
	}
	return nil
}
