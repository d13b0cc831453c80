package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/store"
	"github.com/harmonia-ai/harmonia/pkg/models"
)

func newProgressFixture(t *testing.T) (*TaskProgress, store.TaskStore, *broadcast.ChanSink) {
	t.Helper()

	s := store.NewMemStore()
	t.Cleanup(func() { s.Close() })

	_, err := s.Create(store.TaskSpec{
		ID:      "task-1",
		OwnerID: "owner-1",
		AgentID: "assistant",
		Command: "do the thing",
	})
	require.NoError(t, err)

	b := broadcast.New(nil)
	sink := broadcast.NewChanSink(16)
	b.Register("owner-1", sink)

	return NewTaskProgress("task-1", "owner-1", s, b, nil), s, sink
}

func drain(sink *broadcast.ChanSink) []broadcast.Event {
	var events []broadcast.Event
	for {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestProgressPersistsBeforeBroadcast(t *testing.T) {
	progress, s, sink := newProgressFixture(t)
	require.NoError(t, progress.StatusChange(models.TaskStatusQueued, models.TaskStatusInProgress))

	require.NoError(t, progress.ProgressUpdate(25, "plan"))
	require.NoError(t, progress.ProgressUpdate(60, "search"))

	task, err := s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, 60, task.ProgressPercentage)
	assert.Equal(t, "search", task.CurrentNode)

	events := drain(sink)
	require.Len(t, events, 3)
	assert.Equal(t, broadcast.EventTaskStatusChanged, events[0].Type)
	assert.Equal(t, 25, events[1].Percent)
	assert.Equal(t, "plan", events[1].Node)
	assert.Equal(t, 60, events[2].Percent)
	assert.Equal(t, "search", events[2].Node)
}

func TestProgressClampsPercent(t *testing.T) {
	progress, s, sink := newProgressFixture(t)
	require.NoError(t, progress.StatusChange(models.TaskStatusQueued, models.TaskStatusInProgress))
	drain(sink)

	require.NoError(t, progress.ProgressUpdate(150, "overshoot"))
	task, err := s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, 100, task.ProgressPercentage)

	require.NoError(t, progress.ProgressUpdate(-5, "undershoot"))
	task, err = s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, 0, task.ProgressPercentage)

	events := drain(sink)
	require.Len(t, events, 2)
	assert.Equal(t, 100, events[0].Percent)
	assert.Equal(t, 0, events[1].Percent)
}

func TestProgressInvalidTransitionNotBroadcast(t *testing.T) {
	progress, s, sink := newProgressFixture(t)

	// queued -> completed skips in_progress; the store rejects it, so no
	// event may leak out.
	err := progress.StatusChange(models.TaskStatusQueued, models.TaskStatusCompleted)
	require.Error(t, err)

	task, getErr := s.Get("task-1")
	require.NoError(t, getErr)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Empty(t, drain(sink))
}

func TestConsultationLifecycle(t *testing.T) {
	progress, s, sink := newProgressFixture(t)
	require.NoError(t, progress.StatusChange(models.TaskStatusQueued, models.TaskStatusInProgress))
	drain(sink)

	require.NoError(t, progress.ConsultationStarted("assistant", "General Assistant"))

	task, err := s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusToolCall, task.Status)
	assert.Equal(t, "assistant", task.ConsultationTargetID)
	assert.Equal(t, "General Assistant", task.ConsultationNickname)

	require.NoError(t, progress.ConsultationCompleted())
	require.NoError(t, progress.StatusChange(models.TaskStatusToolCall, models.TaskStatusInProgress))

	task, err = s.Get("task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusInProgress, task.Status)
	assert.Empty(t, task.ConsultationTargetID, "consultation fields clear on leaving tool_call")
	assert.Empty(t, task.ConsultationNickname)

	events := drain(sink)
	require.Len(t, events, 3)
	assert.Equal(t, broadcast.EventConsultationStarted, events[0].Type)
	assert.Equal(t, "assistant", events[0].ConsultationTargetID)
	assert.Equal(t, broadcast.EventConsultationCompleted, events[1].Type)
	assert.Equal(t, broadcast.EventTaskStatusChanged, events[2].Type)
	assert.Equal(t, models.TaskStatusInProgress, events[2].NewStatus)
}
