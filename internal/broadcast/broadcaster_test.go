package broadcast

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// recordingSink captures every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	fail   error
}

func (s *recordingSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func TestBroadcastDeliversToAllListeners(t *testing.T) {
	b := New(nil)
	alice := &recordingSink{}
	bob := &recordingSink{}
	b.Register("alice", alice)
	b.Register("bob", bob)

	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1", OwnerID: "alice", Percent: 25})

	assert.Len(t, alice.received(), 1)
	assert.Len(t, bob.received(), 1)
	assert.False(t, alice.received()[0].Timestamp.IsZero())
}

func TestBroadcastPreservesPerTaskOrder(t *testing.T) {
	b := New(nil)
	sink := &recordingSink{}
	b.Register("alice", sink)

	transitions := []struct {
		old, new models.TaskStatus
	}{
		{models.TaskStatusQueued, models.TaskStatusInProgress},
		{models.TaskStatusInProgress, models.TaskStatusToolCall},
		{models.TaskStatusToolCall, models.TaskStatusInProgress},
		{models.TaskStatusInProgress, models.TaskStatusCompleted},
	}
	for _, tr := range transitions {
		b.Broadcast(Event{Type: EventTaskStatusChanged, TaskID: "t1", OldStatus: tr.old, NewStatus: tr.new})
	}

	got := sink.received()
	require.Len(t, got, len(transitions))
	for i, tr := range transitions {
		assert.Equal(t, tr.old, got[i].OldStatus)
		assert.Equal(t, tr.new, got[i].NewStatus)
	}
}

func TestFailingSinkIsUnregistered(t *testing.T) {
	b := New(nil)
	healthy := &recordingSink{}
	broken := &recordingSink{fail: errors.New("connection closed")}
	b.Register("healthy", healthy)
	b.Register("broken", broken)

	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1", Percent: 10})

	// The healthy listener got the event; the broken one is gone.
	assert.Len(t, healthy.received(), 1)
	assert.Equal(t, 1, b.ListenerCount())

	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1", Percent: 20})
	assert.Len(t, healthy.received(), 2)
}

func TestReconnectedSinkSurvivesStaleFailure(t *testing.T) {
	b := New(nil)
	broken := &recordingSink{fail: errors.New("gone")}
	b.Register("alice", broken)

	// Replace the sink mid-broadcast semantics: register first, broadcast,
	// and verify the replacement is still registered afterwards.
	fresh := &recordingSink{}
	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1"})
	b.Register("alice", fresh)
	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1"})

	assert.Len(t, fresh.received(), 1)
	assert.Equal(t, 1, b.ListenerCount())
}

func TestBroadcastWithNoListenersIsDropped(t *testing.T) {
	b := New(nil)
	// Must not panic or block.
	b.Broadcast(Event{Type: EventTaskCompleted, TaskID: "t1", Result: "done"})
	assert.Equal(t, 0, b.ListenerCount())
}

func TestUnregister(t *testing.T) {
	b := New(nil)
	sink := &recordingSink{}
	b.Register("alice", sink)
	b.Unregister("alice")

	b.Broadcast(Event{Type: EventTaskProgress, TaskID: "t1"})
	assert.Empty(t, sink.received())
}

func TestWriterSinkEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)

	require.NoError(t, sink.Send(Event{Type: EventTaskCompleted, TaskID: "t1", Result: "hello"}))
	require.NoError(t, sink.Send(Event{Type: EventTaskFailed, TaskID: "t2", Error: "boom"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, EventTaskCompleted, first.Type)
	assert.Equal(t, "hello", first.Result)
}

func TestChanSinkReportsFullBuffer(t *testing.T) {
	sink := NewChanSink(1)
	require.NoError(t, sink.Send(Event{Type: EventTaskProgress}))
	err := sink.Send(Event{Type: EventTaskProgress})
	assert.ErrorIs(t, err, ErrSlowListener)
}
