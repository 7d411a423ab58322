package agents

import (
	"context"
	"fmt"

	"github.com/mikeboe/research-reporter/pkg/pipeline"
	"github.com/mikeboe/research-reporter/pkg/research"
	"github.com/mikeboe/research-reporter/pkg/stream"
)

// Researcher runs the browsing part of a report.
type Researcher interface {
	Research(ctx context.Context, req research.Request, progress stream.Sink) (*research.Result, error)
}

// BrowserStage gathers research data for the task query.
type BrowserStage struct {
	Researcher Researcher
}

func NewBrowserStage(r Researcher) *BrowserStage {
	return &BrowserStage{Researcher: r}
}

func (b *BrowserStage) Name() string { return "browser" }

func (b *BrowserStage) Run(ctx context.Context, state pipeline.State, progress stream.Sink) (pipeline.Update, error) {
	task := state.Task

	res, err := b.Researcher.Research(ctx, research.Request{
		ResearchID: task.ResearchID,
		Query:      task.Query,
		Model:      task.Model,
		Language:   task.Language,
		Tone:       task.Tone,
	}, progress)
	if err != nil {
		return pipeline.Update{}, fmt.Errorf("research: %w", err)
	}

	return pipeline.Update{
		Title:        pipeline.String(task.Query),
		ResearchData: nonNil(res.Context),
		Report:       pipeline.String(res.Report),
		SourceURLs:   nonNil(res.SourceURLs),
		VisitedURLs:  nonNil(res.VisitedURLs),
		Costs:        pipeline.Float(res.Costs),
		Images:       nonNil(res.Images),
	}, nil
}

// nonNil keeps an empty result distinguishable from "not produced".
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
