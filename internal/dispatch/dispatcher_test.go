package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-ai/harmonia/internal/agent"
	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/graph"
	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

type fixture struct {
	store       store.TaskStore
	registry    *agent.Registry
	broadcaster *broadcast.Broadcaster
	sink        *broadcast.ChanSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s := store.NewMemStore()
	t.Cleanup(func() { s.Close() })

	registry := agent.NewRegistry()
	assistant, err := agent.NewAssistant(nil)
	require.NoError(t, err)
	require.NoError(t, registry.Register(assistant))
	reviewer, err := agent.NewReviewer(nil)
	require.NoError(t, err)
	require.NoError(t, registry.Register(reviewer))

	b := broadcast.New(nil)
	sink := broadcast.NewChanSink(64)
	b.Register("owner-1", sink)

	return &fixture{store: s, registry: registry, broadcaster: b, sink: sink}
}

func (f *fixture) createTask(t *testing.T, id, agentID string) *models.Task {
	t.Helper()
	task, err := f.store.Create(store.TaskSpec{
		ID:      id,
		OwnerID: "owner-1",
		AgentID: agentID,
		Command: "summarize the report",
	})
	require.NoError(t, err)
	return task
}

func (f *fixture) events() []broadcast.Event {
	var events []broadcast.Event
	for {
		select {
		case ev := <-f.sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestDispatchCompletesTask(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "assistant")

	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("respond", "Here is the summary."))
	d.Dispatch(context.Background(), "task-1")

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "Here is the summary.", *task.Result)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)

	events := f.events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, broadcast.EventTaskCompleted, last.Type)
	assert.Equal(t, "Here is the summary.", last.Result)
	assert.Equal(t, "assistant", last.Metadata["agent_id"])
}

func TestDispatchUnknownAgentFails(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "ghost")

	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("unused"))
	d.Dispatch(context.Background(), "task-1")

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "ghost")
	assert.Nil(t, task.StartedAt, "the task never started executing")

	events := f.events()
	require.NotEmpty(t, events)
	assert.Equal(t, broadcast.EventTaskFailed, events[len(events)-1].Type)
}

func TestDispatchMissingTaskIsSilent(t *testing.T) {
	f := newFixture(t)

	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("unused"))
	d.Dispatch(context.Background(), "no-such-task")

	assert.Empty(t, f.events())
}

func TestDispatchNodeErrorFailsTask(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "assistant")

	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFailingClient(errors.New("model down")))
	d.Dispatch(context.Background(), "task-1")

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Equal(t, "I can't help with that request.", *task.ErrorMessage, "the friendly message wins over the raw cause")

	events := f.events()
	last := events[len(events)-1]
	assert.Equal(t, broadcast.EventTaskFailed, last.Type)
	assert.Contains(t, last.Metadata["error_detail"], "model down")
}

func TestDispatchRecoversPanic(t *testing.T) {
	f := newFixture(t)

	e := graph.NewEngine[agent.State]()
	require.NoError(t, e.RegisterNode("boom", func(context.Context, agent.State) (agent.State, error) {
		panic("node exploded")
	}))
	e.AddEdge("boom", graph.End)
	e.SetEntry("boom")
	panicky, err := agent.NewRuntime("panicky", "Panicky", e, nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Register(panicky))

	f.createTask(t, "task-1", "panicky")

	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("unused"))
	require.NotPanics(t, func() {
		d.Dispatch(context.Background(), "task-1")
	})

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "node exploded")
}

func TestDispatchConsultationTransitions(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "reviewer")

	client := llm.NewFakeClient(
		"Draft notes.",            // reviewer draft
		"respond",                 // nested assistant classify
		"Independent assessment.", // nested assistant respond
		"Merged final review.",    // reviewer merge
	)
	d := NewDispatcher(f.store, f.registry, f.broadcaster, client)
	d.Dispatch(context.Background(), "task-1")

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.Result)
	assert.Equal(t, "Merged final review.", *task.Result)

	var types []broadcast.EventType
	for _, ev := range f.events() {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, broadcast.EventConsultationStarted)
	assert.Contains(t, types, broadcast.EventConsultationCompleted)
}

func TestDispatchConsultationFaultFailsTask(t *testing.T) {
	s := store.NewMemStore()
	t.Cleanup(func() { s.Close() })

	// An assistant whose graph aborts mid-run, so the consultation errors
	// while the parent task sits in tool_call.
	e := graph.NewEngine[agent.State]()
	require.NoError(t, e.RegisterNode("abort", func(context.Context, agent.State) (agent.State, error) {
		return agent.State{}, errors.New("assistant unavailable")
	}))
	e.AddEdge("abort", graph.End)
	e.SetEntry("abort")
	faulty, err := agent.NewRuntime("assistant", "Assistant", e, nil)
	require.NoError(t, err)

	registry := agent.NewRegistry()
	require.NoError(t, registry.Register(faulty))
	reviewer, err := agent.NewReviewer(nil)
	require.NoError(t, err)
	require.NoError(t, registry.Register(reviewer))

	b := broadcast.New(nil)
	sink := broadcast.NewChanSink(64)
	b.Register("owner-1", sink)

	_, err = s.Create(store.TaskSpec{ID: "task-1", OwnerID: "owner-1", AgentID: "reviewer", Command: "review this"})
	require.NoError(t, err)

	d := NewDispatcher(s, registry, b, llm.NewFakeClient("Draft notes."))
	d.Dispatch(context.Background(), "task-1")

	task, err := s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status, "a consultation fault must not strand the task in tool_call")
	require.NotNil(t, task.ErrorMessage)
	assert.Contains(t, *task.ErrorMessage, "consultation")
	assert.Empty(t, task.ConsultationTargetID)
	require.NotNil(t, task.CompletedAt)

	var failed broadcast.Event
	for len(sink.Events()) > 0 {
		if ev := <-sink.Events(); ev.Type == broadcast.EventTaskFailed {
			failed = ev
		}
	}
	require.Equal(t, broadcast.EventTaskFailed, failed.Type, "a failure event must still be broadcast")
	assert.Equal(t, models.TaskStatusToolCall, failed.OldStatus)
}

type recordingEvaluator struct {
	calls int
	err   error
}

func (r *recordingEvaluator) Evaluate(context.Context, *models.Task, models.ExecutionResult) error {
	r.calls++
	return r.err
}

func TestDispatchEvaluatorIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "assistant")

	eval := &recordingEvaluator{err: errors.New("rubric crashed")}
	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("respond", "done"),
		WithEvaluator(eval))
	d.Dispatch(context.Background(), "task-1")

	assert.Equal(t, 1, eval.calls)

	task, err := f.store.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status, "evaluation failure never rolls back completion")
}

func TestDispatchEvaluatorSkippedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, "task-1", "ghost")

	eval := &recordingEvaluator{}
	d := NewDispatcher(f.store, f.registry, f.broadcaster, llm.NewFakeClient("unused"),
		WithEvaluator(eval))
	d.Dispatch(context.Background(), "task-1")

	assert.Zero(t, eval.calls)
}

func TestLLMEvaluatorParsesScore(t *testing.T) {
	task := &models.Task{ID: "t", Command: "cmd"}
	result := models.ExecutionResult{Success: true, Response: "resp"}

	eval := NewLLMEvaluator(llm.NewFakeClient("4"), nil)
	assert.NoError(t, eval.Evaluate(context.Background(), task, result))

	eval = NewLLMEvaluator(llm.NewFakeClient("excellent work"), nil)
	assert.Error(t, eval.Evaluate(context.Background(), task, result))

	eval = NewLLMEvaluator(llm.NewFakeClient("9"), nil)
	assert.Error(t, eval.Evaluate(context.Background(), task, result))

	eval = NewLLMEvaluator(llm.NewFailingClient(errors.New("down")), nil)
	assert.Error(t, eval.Evaluate(context.Background(), task, result))
}
