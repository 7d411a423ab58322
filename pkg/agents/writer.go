package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/research-reporter/pkg/clients"
	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

const layoutSchema = `{
  "type": "object",
  "properties": {
    "table_of_contents": {"type": "string"},
    "introduction": {"type": "string"},
    "conclusion": {"type": "string"},
    "references": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["table_of_contents", "introduction", "conclusion", "references"]
}`

const headersSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "date": {"type": "string"},
    "introduction": {"type": "string"},
    "table_of_contents": {"type": "string"},
    "conclusion": {"type": "string"},
    "references": {"type": "string"}
  },
  "required": ["title", "date", "introduction", "table_of_contents", "conclusion", "references"]
}`

// Layout is the structured reply of the writer's section call.
type Layout struct {
	TableOfContents string   `json:"table_of_contents"`
	Introduction    string   `json:"introduction"`
	Conclusion      string   `json:"conclusion"`
	References      []string `json:"references"`
}

// WriterStage drafts the introduction, conclusion and reference list of a
// report, and optionally rewrites the structural labels to follow guidelines.
type WriterStage struct {
	Caller clients.Caller
	Logger *slog.Logger
	Now    func() time.Time
}

func NewWriterStage(caller clients.Caller) *WriterStage {
	return &WriterStage{
		Caller: caller,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (w *WriterStage) Name() string { return "writer" }

// WriteSections issues one structured model call for the report layout.
func (w *WriterStage) WriteSections(ctx context.Context, state pipeline.State) (*Layout, error) {
	task := state.Task

	var guidelines string
	if task.FollowGuidelines {
		guidelines = fmt.Sprintf("\nYou must follow the guidelines provided: %s", task.Guidelines)
	}

	system := `You are a research writer. Your sole purpose is to write a well-written research report about a topic based on research findings and information.`

	user := fmt.Sprintf(`Today's date is %s.
Query or Topic: %s
Research data: %s

Your task is to write an in depth, well written and detailed introduction and conclusion to the research report based on the provided research data. Do not include headers in the results.
You MUST include any relevant sources to the introduction and conclusion as markdown hyperlinks. For example: 'This is a sample text. ([url website](url))'
%s
You MUST return nothing but a JSON in the following format (without json markdown):
%s`,
		w.Now().Format("02/01/2006"), state.Title, strings.Join(state.ResearchData, "\n\n"), guidelines, layoutSchema)

	resp, err := w.Caller.Call(ctx, clients.Prompt{
		Model:  task.Model,
		System: system,
		User:   user,
		JSON:   true,
		Schema: layoutSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("writing layout: %w", err)
	}

	var layout Layout
	if err := json.Unmarshal([]byte(resp.Content), &layout); err != nil {
		return nil, fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	if layout.References == nil {
		layout.References = []string{}
	}
	return &layout, nil
}

// ReviseHeaders asks the model for a copy of headers adjusted to the task's
// guidelines. The reply keeps the same keys.
func (w *WriterStage) ReviseHeaders(ctx context.Context, task pipeline.Task, headers pipeline.Headers) (pipeline.Headers, error) {
	current, err := json.Marshal(headers)
	if err != nil {
		return pipeline.Headers{}, err
	}

	user := fmt.Sprintf(`Your task is to revise the given headers JSON based on the guidelines given.
You are to follow the guidelines but the values should be in simple strings, ignoring all markdown syntax.
You must return nothing but a JSON in the same format as given in headers data.
Guidelines: %s

Headers Data: %s
`, task.Guidelines, current)

	resp, err := w.Caller.Call(ctx, clients.Prompt{
		Model:  task.Model,
		System: "You are a research writer. Your sole purpose is to revise the headers data based on the given guidelines.",
		User:   user,
		JSON:   true,
		Schema: headersSchema,
	})
	if err != nil {
		return pipeline.Headers{}, fmt.Errorf("revising headers: %w", err)
	}

	var revised pipeline.Headers
	if err := json.Unmarshal([]byte(resp.Content), &revised); err != nil {
		return pipeline.Headers{}, fmt.Errorf("%w: %v", pipeline.ErrMalformedOutput, err)
	}
	return revised, nil
}

func (w *WriterStage) Run(ctx context.Context, state pipeline.State, progress stream.Sink) (pipeline.Update, error) {
	task := state.Task

	stream.Emit(ctx, progress, stream.Log("writing_report", "Writing final research report..."))

	layout, err := w.WriteSections(ctx, state)
	if err != nil {
		return pipeline.Update{}, err
	}

	if task.Verbose {
		raw, _ := json.Marshal(layout)
		stream.Emit(ctx, progress, stream.Log("research_layout_content", string(raw)))
	}

	headers := pipeline.DefaultHeaders(state.Title, task.Language)
	if task.FollowGuidelines {
		stream.Emit(ctx, progress, stream.Log("rewriting_layout", "Rewriting layout based on guidelines..."))

		headers, err = w.ReviseHeaders(ctx, task, headers)
		if err != nil {
			return pipeline.Update{}, err
		}
	}
	if task.HeaderOverrides != nil {
		headers = headers.Merge(*task.HeaderOverrides)
	}

	w.Logger.Info("Report layout written", "research_id", task.ResearchID, "references", len(layout.References))

	return pipeline.Update{
		TableOfContents: pipeline.String(layout.TableOfContents),
		Introduction:    pipeline.String(layout.Introduction),
		Conclusion:      pipeline.String(layout.Conclusion),
		References:      layout.References,
		Headers:         &headers,
	}, nil
}
