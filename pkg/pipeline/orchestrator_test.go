package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/research-reporter/pkg/stream"
)

type funcStage struct {
	name string
	run  func(ctx context.Context, state State) (Update, error)
}

func (s funcStage) Name() string { return s.name }

func (s funcStage) Run(ctx context.Context, state State, _ stream.Sink) (Update, error) {
	return s.run(ctx, state)
}

type recordingSink struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recordingSink) Send(_ context.Context, e stream.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for _, e := range r.events {
		keys = append(keys, e.Key+":"+e.Value.(string))
	}
	return keys
}

func TestOrchestratorRunsStagesInOrder(t *testing.T) {
	var seen []string

	research := funcStage{name: "research", run: func(_ context.Context, s State) (Update, error) {
		seen = append(seen, "research")
		return Update{ResearchData: []string{"fact one"}, Report: String("body")}, nil
	}}
	writer := funcStage{name: "writer", run: func(_ context.Context, s State) (Update, error) {
		seen = append(seen, "writer")
		require.Equal(t, []string{"fact one"}, s.ResearchData)
		return Update{Introduction: String("intro"), Conclusion: String("outro")}, nil
	}}
	publisher := funcStage{name: "publisher", run: func(_ context.Context, s State) (Update, error) {
		seen = append(seen, "publisher")
		return Update{FinalReport: String(s.Introduction + "\n" + s.Report + "\n" + s.Conclusion)}, nil
	}}

	sink := &recordingSink{}
	o := NewOrchestrator(research, writer, publisher)
	state, err := o.Run(context.Background(), Task{Query: "solar storms"}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"research", "writer", "publisher"}, seen)
	assert.Equal(t, "solar storms", state.Title)
	assert.Equal(t, "intro\nbody\noutro", state.FinalReport)
	assert.Equal(t, "body", state.Report, "earlier fields survive later updates")
	assert.Equal(t, 3, state.Version)
	assert.Equal(t, []string{
		"stage_started:research", "stage_completed:research",
		"stage_started:writer", "stage_completed:writer",
		"stage_started:publisher", "stage_completed:publisher",
	}, sink.keys())
}

func TestOrchestratorHaltsOnFirstFailure(t *testing.T) {
	boom := errors.New("model unavailable")
	ranAfter := false

	o := NewOrchestrator(
		funcStage{name: "research", run: func(context.Context, State) (Update, error) {
			return Update{Report: String("body")}, nil
		}},
		funcStage{name: "writer", run: func(context.Context, State) (Update, error) {
			return Update{}, boom
		}},
		funcStage{name: "publisher", run: func(context.Context, State) (Update, error) {
			ranAfter = true
			return Update{}, nil
		}},
	)

	state, err := o.Run(context.Background(), Task{Query: "q"}, stream.Discard)
	require.Error(t, err)
	assert.False(t, ranAfter)
	assert.ErrorIs(t, err, ErrStageExecution)
	assert.ErrorIs(t, err, boom)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "writer", stageErr.Stage)
	assert.Equal(t, "body", state.Report)
}

func TestOrchestratorRejectsInvalidTask(t *testing.T) {
	called := false
	o := NewOrchestrator(funcStage{name: "research", run: func(context.Context, State) (Update, error) {
		called = true
		return Update{}, nil
	}})

	tests := []struct {
		name string
		task Task
	}{
		{"empty query", Task{}},
		{"blank query", Task{Query: "   "}},
		{"guidelines flag without guidelines", Task{Query: "q", FollowGuidelines: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tt.task, stream.Discard)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.False(t, called)
}

func TestOrchestratorStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(funcStage{name: "research", run: func(context.Context, State) (Update, error) {
		t.Fatal("stage should not run")
		return Update{}, nil
	}})

	_, err := o.Run(ctx, Task{Query: "q"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrStageExecution)
}

func TestStateApplyIsAdditive(t *testing.T) {
	s := State{Title: "t"}
	s.Apply(Update{Introduction: String("intro"), Costs: Float(1.5)})
	s.Apply(Update{Conclusion: String("end")})
	s.Apply(Update{Headers: &Headers{Title: "T"}})

	assert.Equal(t, "t", s.Title)
	assert.Equal(t, "intro", s.Introduction)
	assert.Equal(t, "end", s.Conclusion)
	assert.Equal(t, 1.5, s.Costs)
	require.NotNil(t, s.Headers)
	assert.Equal(t, "T", s.Headers.Title)
	assert.Equal(t, 3, s.Version)
}

func TestDefaultHeaders(t *testing.T) {
	en := DefaultHeaders("Report", "english")
	assert.Equal(t, "Table of Contents", en.TableOfContents)
	assert.Equal(t, "Report", en.Title)

	zh := DefaultHeaders("报告", "chinese")
	assert.Equal(t, "目录", zh.TableOfContents)
	assert.Equal(t, "参考资料", zh.References)

	merged := en.Merge(Headers{Conclusion: "Summary"})
	assert.Equal(t, "Summary", merged.Conclusion)
	assert.Equal(t, "Introduction", merged.Introduction)
}
