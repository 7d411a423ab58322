package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mikeboe/research-reporter/pkg/markdown"
	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

// PublisherStage assembles the final markdown document from the state.
type PublisherStage struct {
	Now func() time.Time
}

func NewPublisherStage() *PublisherStage {
	return &PublisherStage{Now: time.Now}
}

func (p *PublisherStage) Name() string { return "publisher" }

func (p *PublisherStage) Run(ctx context.Context, state pipeline.State, progress stream.Sink) (pipeline.Update, error) {
	headers := pipeline.DefaultHeaders(state.Title, state.Task.Language)
	if state.Headers != nil {
		headers = headers.Merge(*state.Headers)
	}

	final := p.Assemble(state, headers)
	stream.Emit(ctx, progress, stream.Log("publishing", fmt.Sprintf("Report assembled (%d characters)", len(final))))

	return pipeline.Update{
		FinalReport: pipeline.String(final),
		Sections:    markdown.ExtractSections(final),
	}, nil
}

// Assemble lays out title, date, table of contents, introduction, body,
// conclusion and references.
func (p *PublisherStage) Assemble(state pipeline.State, headers pipeline.Headers) string {
	var body strings.Builder
	if state.Introduction != "" {
		fmt.Fprintf(&body, "## %s\n\n%s\n\n", headers.Introduction, strings.TrimSpace(state.Introduction))
	}
	if state.Report != "" {
		fmt.Fprintf(&body, "%s\n\n", strings.TrimSpace(state.Report))
	}
	if state.Conclusion != "" {
		fmt.Fprintf(&body, "## %s\n\n%s\n", headers.Conclusion, strings.TrimSpace(state.Conclusion))
	}

	toc, isCJK := markdown.TableOfContents(body.String())
	toc = relabelTOC(toc, headers.TableOfContents)

	var doc strings.Builder
	fmt.Fprintf(&doc, "# %s\n\n", headers.Title)
	fmt.Fprintf(&doc, "%s: %s\n\n", headers.Date, p.Now().Format("02/01/2006"))
	doc.WriteString(toc)
	doc.WriteString("\n")
	doc.WriteString(body.String())

	return markdown.AddReferences(strings.TrimRight(doc.String(), "\n"), state.VisitedURLs, isCJK)
}

// relabelTOC swaps the generated title line for a custom label.
func relabelTOC(toc, label string) string {
	if label == "" {
		return toc
	}
	if _, rest, ok := strings.Cut(toc, "\n"); ok {
		return "## " + label + "\n" + rest
	}
	return toc
}
