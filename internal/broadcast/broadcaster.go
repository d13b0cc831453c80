// Package broadcast delivers task lifecycle events to connected listeners.
// Listeners are keyed by owner identity; a failing sink is unregistered
// automatically so it can never block delivery to the others.
package broadcast

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/harmonia-ai/harmonia/pkg/models"
)

// EventType is the discriminant of a broadcast event.
type EventType string

const (
	// EventTaskStatusChanged carries an old/new status pair.
	EventTaskStatusChanged EventType = "task_status_changed"
	// EventTaskProgress carries a progress percentage and node name.
	EventTaskProgress EventType = "task_progress"
	// EventConsultationStarted indicates a nested agent consultation began.
	EventConsultationStarted EventType = "consultation_started"
	// EventConsultationCompleted indicates a nested consultation finished.
	EventConsultationCompleted EventType = "consultation_completed"
	// EventTaskCompleted carries the full result payload.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed carries the failure payload.
	EventTaskFailed EventType = "task_failed"
)

// Event is one task lifecycle notification.
type Event struct {
	// Type is the event discriminant.
	Type EventType `json:"type"`
	// TaskID identifies the task the event belongs to.
	TaskID string `json:"task_id"`
	// OwnerID identifies the task owner.
	OwnerID string `json:"owner_id"`
	// OldStatus and NewStatus are set for status-change events.
	OldStatus models.TaskStatus `json:"old_status,omitempty"`
	NewStatus models.TaskStatus `json:"new_status,omitempty"`
	// Percent and Node are set for progress events.
	Percent int    `json:"percent,omitempty"`
	Node    string `json:"node,omitempty"`
	// ConsultationTargetID and ConsultationNickname are set for
	// consultation events.
	ConsultationTargetID string `json:"consultation_target_id,omitempty"`
	ConsultationNickname string `json:"consultation_nickname,omitempty"`
	// Result and Error are set on terminal events.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	// Metadata carries the task's free-form metadata on terminal events.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Timestamp is when the event was broadcast.
	Timestamp time.Time `json:"timestamp"`
}

// Sink receives events for one connected listener. Send failures cause the
// sink to be unregistered.
type Sink interface {
	Send(event Event) error
}

// Broadcaster fans events out to registered sinks. All methods are safe for
// concurrent use. Broadcast delivers synchronously in the caller's
// goroutine, so callers that persist a transition and then broadcast it get
// per-task event ordering for free.
type Broadcaster struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger *slog.Logger
}

// New creates an empty Broadcaster. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		sinks:  make(map[string]Sink),
		logger: logger,
	}
}

// Register attaches a sink for the given owner, replacing any previous one.
func (b *Broadcaster) Register(ownerID string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[ownerID] = sink
}

// Unregister detaches the sink for the given owner, if any.
func (b *Broadcaster) Unregister(ownerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, ownerID)
}

// ListenerCount returns the number of registered sinks.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sinks)
}

// Broadcast stamps the event and sends it to every registered sink. A send
// failure unregisters that sink and never affects the others. An event with
// no listeners is simply dropped.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make(map[string]Sink, len(b.sinks))
	for owner, sink := range b.sinks {
		targets[owner] = sink
	}
	b.mu.RUnlock()

	var failed []string
	for owner, sink := range targets {
		if err := sink.Send(event); err != nil {
			b.logger.Warn("listener send failed, unregistering",
				"owner_id", owner, "event_type", event.Type, "error", err)
			failed = append(failed, owner)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		for _, owner := range failed {
			// Only drop the sink if it is still the one that failed;
			// the owner may have reconnected in the meantime.
			if b.sinks[owner] == targets[owner] {
				delete(b.sinks, owner)
			}
		}
		b.mu.Unlock()
	}
}

// WriterSink streams events as JSON lines to an io.Writer. It serializes
// writes so a single connection never interleaves two events.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink wraps a writer as a Sink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Send marshals the event and writes it followed by a newline.
func (s *WriterSink) Send(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte{'\n'})
	return err
}

// ChanSink delivers events to a buffered channel without ever blocking the
// broadcaster. A full buffer is reported as an error, which unregisters the
// sink rather than stalling other listeners.
type ChanSink struct {
	ch chan Event
}

// NewChanSink creates a sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Send enqueues the event or fails if the buffer is full.
func (s *ChanSink) Send(event Event) error {
	select {
	case s.ch <- event:
		return nil
	default:
		return ErrSlowListener
	}
}
