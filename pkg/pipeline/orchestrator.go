package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/research-reporter/pkg/stream"
)

// Stage is one step of the report pipeline. It reads a snapshot of the state
// and returns the fields it produced.
type Stage interface {
	Name() string
	Run(ctx context.Context, state State, progress stream.Sink) (Update, error)
}

// Orchestrator runs stages in order over a single research state.
type Orchestrator struct {
	Stages []Stage
	Logger *slog.Logger
}

func NewOrchestrator(stages ...Stage) *Orchestrator {
	return &Orchestrator{
		Stages: stages,
		Logger: slog.Default(),
	}
}

// Run validates the task, then executes each stage to completion before the
// next one starts. The first stage failure stops the run and is returned as a
// *StageError.
func (o *Orchestrator) Run(ctx context.Context, task Task, progress stream.Sink) (*State, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = stream.NewLogSink(o.Logger, "ORCHESTRATOR")
	}

	state := &State{
		Title: task.Query,
		Task:  task,
	}

	o.Logger.Info("Starting pipeline run", "research_id", task.ResearchID, "stages", len(o.Stages))
	started := time.Now()

	for _, stage := range o.Stages {
		if err := ctx.Err(); err != nil {
			return state, &StageError{Stage: stage.Name(), Err: err}
		}

		stream.Emit(ctx, progress, stream.Log("stage_started", stage.Name()))

		update, err := stage.Run(ctx, *state, progress)
		if err != nil {
			o.Logger.Error("Stage failed", "research_id", task.ResearchID, "stage", stage.Name(), "error", err)
			return state, &StageError{Stage: stage.Name(), Err: err}
		}
		state.Apply(update)

		stream.Emit(ctx, progress, stream.Log("stage_completed", stage.Name()))
	}

	o.Logger.Info("Pipeline run complete",
		"research_id", task.ResearchID,
		"duration", time.Since(started).Round(time.Millisecond),
		"version", state.Version,
	)
	return state, nil
}

// Describe is a short human-readable summary of the pipeline.
func (o *Orchestrator) Describe() string {
	names := make([]string, len(o.Stages))
	for i, s := range o.Stages {
		names[i] = s.Name()
	}
	return fmt.Sprintf("%v", names)
}
