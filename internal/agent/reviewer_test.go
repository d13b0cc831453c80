package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-ai/harmonia/internal/llm"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

func TestReviewerConsultsAssistant(t *testing.T) {
	progress, s, sink := newProgressFixture(t)
	require.NoError(t, progress.StatusChange(models.TaskStatusQueued, models.TaskStatusInProgress))
	drain(sink)

	assistant, err := NewAssistant(nil)
	require.NoError(t, err)
	reviewer, err := NewReviewer(nil)
	require.NoError(t, err)

	// Consult mirrors the dispatcher wiring: report tool_call, run the
	// nested agent with its own context, report completion.
	consult := func(ctx context.Context, targetID, command string) (models.ExecutionResult, error) {
		require.Equal(t, "assistant", targetID)
		if err := progress.ConsultationStarted(targetID, assistant.Name()); err != nil {
			return models.ExecutionResult{}, err
		}
		nested := llm.NewFakeClient("respond", "Looks correct to me.")
		result, err := assistant.Execute(ctx, command, &ExecutionContext{LLM: nested})
		if err != nil {
			return models.ExecutionResult{}, err
		}
		if cerr := progress.ConsultationCompleted(); cerr != nil {
			return models.ExecutionResult{}, cerr
		}
		return result, nil
	}

	client := llm.NewFakeClient("Draft notes: the change is sound.", "Final review: approved.")
	result, err := reviewer.Execute(context.Background(), "review PR 42", &ExecutionContext{
		LLM:      client,
		Progress: progress,
		Consult:  consult,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Final review: approved.", result.Response)

	// The task passed through tool_call and came back.
	task, err := s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)
	assert.Empty(t, task.ConsultationTargetID)

	var sawStart, sawComplete, sawResume bool
	for _, ev := range drain(sink) {
		switch {
		case ev.Type == "consultation_started":
			assert.False(t, sawComplete, "start precedes completion")
			sawStart = true
		case ev.Type == "consultation_completed":
			assert.True(t, sawStart)
			sawComplete = true
		case ev.Type == "task_status_changed" && ev.NewStatus == models.TaskStatusInProgress:
			sawResume = sawComplete
		}
	}
	assert.True(t, sawStart)
	assert.True(t, sawComplete)
	assert.True(t, sawResume, "the resume transition follows the consultation")
}

func TestReviewerWorksWithoutConsult(t *testing.T) {
	reviewer, err := NewReviewer(nil)
	require.NoError(t, err)

	client := llm.NewFakeClient("Draft notes only.")
	result, err := reviewer.Execute(context.Background(), "review this", &ExecutionContext{LLM: client})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "Draft notes only.", result.Response, "no consultation means the draft stands")
}

func TestReviewerFailedConsultationDegrades(t *testing.T) {
	reviewer, err := NewReviewer(nil)
	require.NoError(t, err)

	consult := func(context.Context, string, string) (models.ExecutionResult, error) {
		return models.ExecutionResult{Success: false, Error: "assistant unavailable"}, nil
	}

	client := llm.NewFakeClient("Draft notes.")
	result, err := reviewer.Execute(context.Background(), "review this", &ExecutionContext{
		LLM:     client,
		Consult: consult,
	})
	require.NoError(t, err)

	assert.True(t, result.Success, "a failed nested run degrades the review rather than failing the task")
	assert.Equal(t, "Draft notes.", result.Response)
}
